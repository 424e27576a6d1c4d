// Package verdict turns classifier confidences into a final classification.
package verdict

import (
	"fmt"

	"github.com/andresmejia3/veritas/internal/types"
)

// DefaultThreshold is the exclusive decision threshold: a confidence equal to it is negative.
const DefaultThreshold = 0.5

const (
	MsgNoFaceVideo  = "No faces found in the video"
	MsgNoFaceImage  = "No face detected in the image"
	MsgImageSuccess = "Face analyzed successfully"
)

func classify(confidence, threshold float64) types.Classification {
	if confidence > threshold {
		return types.Positive
	}
	return types.Negative
}

// Accumulator collects per-frame scores for one video in frame order.
type Accumulator struct {
	threshold float64
	sum       float64
	frames    []types.FrameScore
	present   int
}

func NewAccumulator(threshold float64) *Accumulator {
	return &Accumulator{threshold: threshold}
}

// Add records the score for a sampled frame. Absent scores count toward nothing
// but are kept in the trace.
func (a *Accumulator) Add(s types.FrameScore) {
	a.frames = append(a.frames, s)
	if !s.Present {
		return
	}
	a.sum += s.Value
	a.present++
}

// Frames returns the recorded trace.
func (a *Accumulator) Frames() []types.FrameScore {
	return a.frames
}

// Present returns the scores of frames that had a face, in order.
func (a *Accumulator) Present() []float32 {
	out := make([]float32, 0, a.present)
	for _, s := range a.frames {
		if s.Present {
			out = append(out, float32(s.Value))
		}
	}
	return out
}

// Verdict finalizes the mean of present scores. total is every decoded frame.
func (a *Accumulator) Verdict(total int) types.Verdict {
	if a.present == 0 {
		return types.Verdict{
			Classification: types.Undetermined,
			Message:        MsgNoFaceVideo,
			TotalFrames:    total,
		}
	}
	mean := a.sum / float64(a.present)
	return types.Verdict{
		Classification: classify(mean, a.threshold),
		Confidence:     mean,
		Message:        fmt.Sprintf("Analyzed %d frames with faces out of %d total frames", a.present, total),
		FacedFrames:    a.present,
		TotalFrames:    total,
	}
}

// Aggregate reduces a video's frame scores to one verdict.
func Aggregate(scores []types.FrameScore, totalFramesSeen int, threshold float64) types.Verdict {
	acc := NewAccumulator(threshold)
	for _, s := range scores {
		acc.Add(s)
	}
	return acc.Verdict(totalFramesSeen)
}

// ForImage classifies a single image confidence.
func ForImage(confidence, threshold float64) types.Verdict {
	return types.Verdict{
		Classification: classify(confidence, threshold),
		Confidence:     confidence,
		Message:        MsgImageSuccess,
		FacedFrames:    1,
		TotalFrames:    1,
	}
}

// NoFaceImage is the verdict for an image without a usable face.
func NoFaceImage() types.Verdict {
	return types.Verdict{
		Classification: types.Undetermined,
		Message:        MsgNoFaceImage,
		TotalFrames:    1,
	}
}
