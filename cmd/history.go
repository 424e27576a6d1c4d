package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent analyses stored in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		records, err := DB.ListAnalyses(cmd.Context(), historyLimit)
		if err != nil {
			utils.ShowError("Failed to list analyses", err, nil)
			return err
		}
		if jsonOutput {
			return printJSON(records)
		}
		writeHistory(os.Stdout, records)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum number of analyses to show")
	rootCmd.AddCommand(historyCmd)
}

func writeHistory(out io.Writer, records []types.AnalysisRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No analyses found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tVERDICT\tCONFIDENCE\tFRAMES\tLABEL\tFILE\tCREATED")
	fmt.Fprintln(w, "--\t----\t-------\t----------\t------\t-----\t----\t-------")

	for _, r := range records {
		label := r.GroundTruth
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%d/%d\t%s\t%s\t%s\n",
			r.ID, r.Mode, r.Verdict.Classification, r.Verdict.Confidence,
			r.Verdict.FacedFrames, r.Verdict.TotalFrames, label,
			filepath.Base(r.MediaPath), r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
