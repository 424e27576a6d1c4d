package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/utils"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored verdicts and their accuracy against ground-truth labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		st, err := DB.Stats(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to compute stats", err, nil)
			return err
		}
		if jsonOutput {
			return printJSON(struct {
				store.Stats
				Labelled int     `json:"labelled"`
				Accuracy float64 `json:"accuracy"`
			}{st, st.Labelled(), st.Accuracy()})
		}
		writeStats(os.Stdout, st)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func writeStats(out io.Writer, st store.Stats) {
	if st.Total == 0 {
		fmt.Fprintln(out, "No analyses found in database.")
		return
	}
	fmt.Fprintf(out, "Analyses:     %d (since %s)\n", st.Total, st.Since.Local().Format("2006-01-02"))
	fmt.Fprintf(out, "Deepfake:     %d\n", st.Positive)
	fmt.Fprintf(out, "Authentic:    %d\n", st.Negative)
	fmt.Fprintf(out, "Undetermined: %d\n", st.Undetermined)

	if st.Labelled() == 0 {
		fmt.Fprintln(out, "\nNo labelled analyses yet. Use `veritas label <id> <real|fake>`.")
		return
	}
	fmt.Fprintf(out, "\nLabelled:     %d\n", st.Labelled())
	fmt.Fprintf(out, "              predicted fake   predicted real\n")
	fmt.Fprintf(out, "  fake        %-16d %d\n", st.TruePositive, st.FalseNegative)
	fmt.Fprintf(out, "  real        %-16d %d\n", st.FalsePositive, st.TrueNegative)
	fmt.Fprintf(out, "Accuracy:     %.1f%%\n", st.Accuracy()*100)
}
