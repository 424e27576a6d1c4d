package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:   "label <analysis_id> <real|fake>",
	Short: "Record the ground truth for a stored analysis",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		id, truth := args[0], strings.ToLower(args[1])

		if err := DB.Label(cmd.Context(), id, truth); err != nil {
			utils.ShowError("Failed to label analysis", err, nil)
			return err
		}

		fmt.Printf("✅ Analysis %s labeled as '%s'\n", id, truth)
		return nil
	},
}

func init() {
	labelCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 1 {
			return []string{store.LabelReal, store.LabelFake}, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	rootCmd.AddCommand(labelCmd)
}
