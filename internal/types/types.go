package types

import (
	"image"
	"time"
)

// BoundingBox is an axis-aligned face box in frame pixel coordinates (origin top-left).
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area is the selection criterion when a detector returns several candidates.
func (b BoundingBox) Area() int {
	return b.W * b.H
}

// Rect converts the box to an image.Rectangle anchored at origin.
func (b BoundingBox) Rect(origin image.Point) image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H).Add(origin)
}

// Within reports whether the box lies entirely inside a width x height frame.
func (b BoundingBox) Within(width, height int) bool {
	return b.X >= 0 && b.Y >= 0 && b.W > 0 && b.H > 0 && b.X+b.W <= width && b.Y+b.H <= height
}

// Tensor is a [1, Size, Size, 3] float32 array in row-major RGB order.
type Tensor struct {
	Size int
	Data []float32
}

// Shape returns the tensor dimensions including the leading batch dimension.
func (t Tensor) Shape() [4]int {
	return [4]int{1, t.Size, t.Size, 3}
}

// Classification is the outcome class of a Verdict.
type Classification string

const (
	Negative     Classification = "negative"
	Positive     Classification = "positive"
	Undetermined Classification = "undetermined"
)

// Verdict is the final classification for one request.
type Verdict struct {
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Message        string         `json:"message"`
	FacedFrames    int            `json:"faced_frames"`
	TotalFrames    int            `json:"total_frames"`
}

// Code maps the verdict onto the legacy is_deepfake field: -1, 0 or 1.
func (v Verdict) Code() int {
	switch v.Classification {
	case Positive:
		return 1
	case Negative:
		return 0
	default:
		return -1
	}
}

// FrameScore is the classifier output for one analysed frame.
// Present is false when no face was found in that frame.
type FrameScore struct {
	Index   int     `json:"index"`
	Value   float64 `json:"value"`
	Present bool    `json:"present"`
}

// Analysis is what the pipeline hands back for one request.
type Analysis struct {
	Verdict Verdict
	Frames  []FrameScore
}

// Mode distinguishes the two entry points of the pipeline.
type Mode string

const (
	ModeImage Mode = "image"
	ModeVideo Mode = "video"
)

// AnalysisRecord is the persisted form of an Analysis.
type AnalysisRecord struct {
	ID          string
	MediaID     string
	MediaPath   string
	Mode        Mode
	Verdict     Verdict
	Scores      []float32 // present frame scores in frame order
	GroundTruth string    // "real", "fake" or empty
	CreatedAt   time.Time
}
