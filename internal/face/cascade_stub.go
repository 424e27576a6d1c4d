//go:build !gocv
// +build !gocv

package face

import (
	"context"
	"errors"
	"image"

	"github.com/andresmejia3/veritas/internal/types"
)

// CascadeSupported reports whether the in-process OpenCV detector was compiled in.
const CascadeSupported = false

var errNoGocv = errors.New("cascade detector requires a build with -tags gocv")

// CascadeDetector is unavailable in builds without OpenCV.
type CascadeDetector struct{}

// NewCascadeDetector always fails without the gocv build tag.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	return nil, errNoGocv
}

func (d *CascadeDetector) Detect(ctx context.Context, gray *image.Gray) ([]types.BoundingBox, error) {
	return nil, errNoGocv
}

func (d *CascadeDetector) Close() error {
	return nil
}
