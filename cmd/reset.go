package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/utils"
)

var (
	resetDB      bool
	resetUploads bool
	resetCrops   string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (database, leftover uploads, debug crops)",
	Long:  "Clears stored data. By default it resets the database (when one is configured) and the upload directory. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := planReset(resetDB, resetUploads, resetCrops, DB != nil)
		if err != nil {
			utils.ShowError("Persistence is disabled", err, nil)
			return err
		}

		reader := bufio.NewReader(os.Stdin)

		if plan.SkipDB {
			fmt.Println("ℹ️  No database configured, skipping database reset.")
		}
		if plan.DB {
			if confirm(os.Stdout, reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if plan.Uploads {
			if confirm(os.Stdout, reader, fmt.Sprintf("⚠️  Are you sure you want to delete everything in %s?", Cfg.UploadDir)) {
				fmt.Println("🗑️  Clearing Uploads...")
				removeDir(Cfg.UploadDir)
			}
		}

		if plan.Crops != "" {
			if confirm(os.Stdout, reader, fmt.Sprintf("⚠️  Are you sure you want to delete all debug crops in %s?", plan.Crops)) {
				fmt.Println("🗑️  Clearing Debug Crops...")
				removeDir(plan.Crops)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "database", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetUploads, "uploads", false, "Clear the server upload directory")
	resetCmd.Flags().StringVar(&resetCrops, "crops", "", "Clear a --debug-crops directory")
	rootCmd.AddCommand(resetCmd)
}

// resetPlan is what a reset run clears.
type resetPlan struct {
	DB      bool
	SkipDB  bool // database reset was implied but persistence is disabled
	Uploads bool
	Crops   string
}

// planReset resolves the flags. With none set it clears the database and uploads,
// skipping the database when none is configured. An explicit --database without
// one is an error.
func planReset(database, uploads bool, crops string, haveDB bool) (resetPlan, error) {
	if !database && !uploads && crops == "" {
		return resetPlan{DB: haveDB, SkipDB: !haveDB, Uploads: true}, nil
	}
	if database && !haveDB {
		return resetPlan{}, errNoDatabase
	}
	return resetPlan{DB: database, Uploads: uploads, Crops: crops}, nil
}

func confirm(out io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
