//go:build gocv
// +build gocv

package face

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/veritas/internal/types"
)

// CascadeSupported reports whether the in-process OpenCV detector was compiled in.
const CascadeSupported = true

// CascadeDetector runs an OpenCV Haar cascade in-process.
type CascadeDetector struct {
	classifier   gocv.CascadeClassifier
	scaleFactor  float64
	minNeighbors int
	mu           sync.Mutex
}

// NewCascadeDetector loads the cascade XML at path.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cascade file not found: %s", path)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade: %s", path)
	}
	return &CascadeDetector{classifier: classifier, scaleFactor: 1.1, minNeighbors: 5}, nil
}

// Detect mirrors detectMultiScale(gray, 1.1, 5).
func (d *CascadeDetector) Detect(ctx context.Context, gray *image.Gray) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(mat, d.scaleFactor, d.minNeighbors, 0, image.Point{}, image.Point{})
	d.mu.Unlock()

	boxes := make([]types.BoundingBox, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, types.BoundingBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()})
	}
	return boxes, nil
}

func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}
