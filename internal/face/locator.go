// Package face finds the single largest face in a frame.
package face

import (
	"context"
	"errors"
	"image"
	"image/draw"

	"github.com/andresmejia3/veritas/internal/types"
)

// Detector is any face-detection capability that returns axis-aligned candidates
// for a luminance frame. Candidate order is the detector's own enumeration order.
type Detector interface {
	Detect(ctx context.Context, gray *image.Gray) ([]types.BoundingBox, error)
	Close() error
}

// Outcome is the tagged result of locating a face: FaceFound(box) or NoFace.
type Outcome struct {
	box   types.BoundingBox
	found bool
}

// NoFace is the outcome for frames without a usable face.
var NoFace = Outcome{}

// FaceFound wraps a located box.
func FaceFound(box types.BoundingBox) Outcome {
	return Outcome{box: box, found: true}
}

// Box returns the located box and whether one was found.
func (o Outcome) Box() (types.BoundingBox, bool) {
	return o.box, o.found
}

// Found reports whether the outcome carries a box.
func (o Outcome) Found() bool {
	return o.found
}

// Locator selects the largest face a Detector reports.
type Locator struct {
	detector Detector
}

// NewLocator wraps a loaded detector.
func NewLocator(d Detector) (*Locator, error) {
	if d == nil {
		return nil, errors.New("face detector is not loaded")
	}
	return &Locator{detector: d}, nil
}

// Locate returns FaceFound with the candidate of largest reported area, clipped to
// the frame, or NoFace. A winner lying wholly outside the frame is NoFace.
func (l *Locator) Locate(ctx context.Context, frame image.Image) (Outcome, error) {
	gray := Grayscale(frame)
	candidates, err := l.detector.Detect(ctx, gray)
	if err != nil {
		return NoFace, err
	}
	box, ok := Largest(candidates)
	if !ok {
		return NoFace, nil
	}
	b := frame.Bounds()
	box, ok = Clip(box, b.Dx(), b.Dy())
	if !ok {
		return NoFace, nil
	}
	return FaceFound(box), nil
}

// Close releases the underlying detector.
func (l *Locator) Close() error {
	return l.detector.Close()
}

// Grayscale converts a frame to luminance with a zero origin.
func Grayscale(frame image.Image) *image.Gray {
	if g, ok := frame.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := frame.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), frame, b.Min, draw.Src)
	return gray
}

// Largest picks the candidate with the maximum area; ties keep the first one seen.
func Largest(candidates []types.BoundingBox) (types.BoundingBox, bool) {
	best, found := types.BoundingBox{}, false
	for _, c := range candidates {
		if !found || c.Area() > best.Area() {
			best, found = c, true
		}
	}
	return best, found
}

// Clip intersects box with a width x height frame. False when nothing is left.
func Clip(box types.BoundingBox, width, height int) (types.BoundingBox, bool) {
	r := box.Rect(image.Point{}).Intersect(image.Rect(0, 0, width, height))
	if r.Empty() {
		return types.BoundingBox{}, false
	}
	return types.BoundingBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}, true
}
