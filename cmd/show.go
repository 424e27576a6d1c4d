package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
)

var showSimilar int

var showCmd = &cobra.Command{
	Use:   "show <analysis_id>",
	Short: "Show a stored analysis, its score trace and analyses with similar traces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDB(); err != nil {
			return err
		}
		ctx := cmd.Context()

		rec, err := DB.GetAnalysis(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			fmt.Printf("❌ No analysis with ID %s.\n", args[0])
			return err
		}
		if err != nil {
			utils.ShowError("Failed to load analysis", err, nil)
			return err
		}

		var neighbors []store.Neighbor
		if showSimilar > 0 {
			neighbors, err = DB.SimilarTraces(ctx, rec.ID, showSimilar)
			if err != nil {
				utils.ShowError("Trace search failed", err, nil)
				return err
			}
		}

		if jsonOutput {
			return printJSON(struct {
				Analysis *types.AnalysisRecord `json:"analysis"`
				Similar  []store.Neighbor      `json:"similar"`
			}{rec, neighbors})
		}
		writeAnalysis(os.Stdout, rec, neighbors)
		return nil
	},
}

func init() {
	showCmd.Flags().IntVarP(&showSimilar, "similar", "s", 5, "Number of analyses with similar score traces to list (0 disables)")
	rootCmd.AddCommand(showCmd)
}

func writeAnalysis(out io.Writer, rec *types.AnalysisRecord, neighbors []store.Neighbor) {
	v := rec.Verdict
	fmt.Fprintf(out, "ID:         %s\n", rec.ID)
	fmt.Fprintf(out, "File:       %s\n", rec.MediaPath)
	fmt.Fprintf(out, "Mode:       %s\n", rec.Mode)
	fmt.Fprintf(out, "Verdict:    %s (code %d)\n", verdictLabel(v.Classification), v.Code())
	fmt.Fprintf(out, "Confidence: %.4f\n", v.Confidence)
	fmt.Fprintf(out, "Message:    %s\n", v.Message)
	fmt.Fprintf(out, "Frames:     %d with faces / %d total\n", v.FacedFrames, v.TotalFrames)
	if rec.GroundTruth != "" {
		fmt.Fprintf(out, "Label:      %s\n", rec.GroundTruth)
	}
	fmt.Fprintf(out, "Created:    %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	if len(rec.Scores) > 0 {
		fmt.Fprintf(out, "Trace:      %s\n", formatTrace(rec.Scores))
	}

	if len(neighbors) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nSIMILAR\tFILE\tDISTANCE")
	fmt.Fprintln(w, "-------\t----\t--------")
	for _, n := range neighbors {
		fmt.Fprintf(w, "%s\t%s\t%.4f\n", n.ID, filepath.Base(n.Path), n.Distance)
	}
	w.Flush()
}

// formatTrace renders scores as space separated values with two decimals.
func formatTrace(scores []float32) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.2f", s)
	}
	return strings.Join(parts, " ")
}
