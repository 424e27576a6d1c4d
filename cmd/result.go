package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
)

// analysisOutput is the --json shape shared by the image and video commands.
type analysisOutput struct {
	ID             string             `json:"id,omitempty"`
	File           string             `json:"file"`
	Mode           types.Mode         `json:"mode"`
	IsDeepfake     int                `json:"is_deepfake"`
	Classification string             `json:"classification"`
	Confidence     float64            `json:"confidence"`
	Message        string             `json:"message"`
	FacedFrames    int                `json:"faced_frames"`
	TotalFrames    int                `json:"total_frames"`
	Frames         []types.FrameScore `json:"frames,omitempty"`
}

func verdictLabel(c types.Classification) string {
	switch c {
	case types.Positive:
		return "🟥 DEEPFAKE"
	case types.Negative:
		return "🟩 AUTHENTIC"
	default:
		return "⬜ UNDETERMINED"
	}
}

// persist stores the analysis when a database is configured and returns its ID.
// A storage failure is logged but does not fail the command.
func persist(ctx context.Context, path string, mode types.Mode, a types.Analysis) string {
	if DB == nil {
		return ""
	}
	rec, err := recordFor(path, mode, a)
	if err == nil {
		err = DB.SaveAnalysis(ctx, rec)
	}
	if err != nil {
		slog.Warn("could not persist analysis", "file", path, "error", err)
		return ""
	}
	return rec.ID
}

// report prints the analysis as a summary or, with --json, as a JSON document.
func report(path string, mode types.Mode, a types.Analysis, id string) error {
	v := a.Verdict
	if jsonOutput {
		return printJSON(analysisOutput{
			ID:             id,
			File:           path,
			Mode:           mode,
			IsDeepfake:     v.Code(),
			Classification: string(v.Classification),
			Confidence:     v.Confidence,
			Message:        v.Message,
			FacedFrames:    v.FacedFrames,
			TotalFrames:    v.TotalFrames,
			Frames:         a.Frames,
		})
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 ANALYSIS RESULT: %s\n", filepath.Base(path))
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Printf("Verdict:    %s\n", verdictLabel(v.Classification))
	fmt.Printf("Confidence: %.4f\n", v.Confidence)
	fmt.Printf("Message:    %s\n", v.Message)
	if id != "" {
		fmt.Printf("Saved as:   %s\n", id)
	}
	return nil
}

func recordFor(path string, mode types.Mode, a types.Analysis) (*types.AnalysisRecord, error) {
	mediaID, err := utils.GenerateMediaID(path)
	if err != nil {
		return nil, err
	}
	rec := &types.AnalysisRecord{
		MediaID:   mediaID,
		MediaPath: path,
		Mode:      mode,
		Verdict:   a.Verdict,
	}
	for _, f := range a.Frames {
		if f.Present {
			rec.Scores = append(rec.Scores, float32(f.Value))
		}
	}
	return rec, nil
}
