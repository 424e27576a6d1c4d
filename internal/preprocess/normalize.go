// Package preprocess turns a located face into the fixed-size tensor the
// classifiers expect.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/andresmejia3/veritas/internal/face"
	"github.com/andresmejia3/veritas/internal/types"
)

// DefaultMargin is the fraction of the box width added on every side.
const DefaultMargin = 0.2

var (
	ErrInvalidTarget = errors.New("target size must be positive")
	ErrEmptyFrame    = errors.New("frame has no pixels")
	ErrEmptyRegion   = errors.New("crop region is empty")
)

// ExpandBox grows box by floor(margin*box.W) on each side and clamps the result
// to a width x height frame. The returned rectangle has a zero origin.
func ExpandBox(box types.BoundingBox, margin float64, width, height int) image.Rectangle {
	m := int(math.Floor(margin * float64(box.W)))
	x := max(0, box.X-m)
	y := max(0, box.Y-m)
	w := min(width-x, box.W+2*m)
	h := min(height-y, box.H+2*m)
	// Built by hand: image.Rect would swap the corners of an inverted region.
	return image.Rectangle{Min: image.Pt(x, y), Max: image.Pt(x+max(w, 0), y+max(h, 0))}
}

// Region returns the crop rectangle in frame coordinates for an outcome.
// NoFace selects the full frame.
func Region(frame image.Image, outcome face.Outcome, margin float64) (image.Rectangle, error) {
	b := frame.Bounds()
	if b.Empty() {
		return image.Rectangle{}, ErrEmptyFrame
	}
	box, ok := outcome.Box()
	if !ok {
		return b, nil
	}
	if box.W <= 0 || box.H <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: box %dx%d", ErrEmptyRegion, box.W, box.H)
	}
	r := ExpandBox(box, margin, b.Dx(), b.Dy()).Add(b.Min)
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: box %+v outside %v", ErrEmptyRegion, box, b)
	}
	return r, nil
}

// Crop cuts the region for outcome out of frame and resizes it bilinearly to
// target x target. Aspect ratio is not preserved.
func Crop(frame image.Image, outcome face.Outcome, target int, margin float64) (*image.RGBA, error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTarget, target)
	}
	region, err := Region(frame, outcome, margin)
	if err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, target, target))
	draw.BiLinear.Scale(dst, dst.Bounds(), frame, region, draw.Src, nil)
	return dst, nil
}

// ToTensor scales an RGBA crop to float32 in [0,1], dropping alpha.
func ToTensor(crop *image.RGBA) types.Tensor {
	size := crop.Bounds().Dx()
	data := make([]float32, 0, size*size*3)
	for y := 0; y < size; y++ {
		row := crop.Pix[y*crop.Stride : y*crop.Stride+size*4]
		for x := 0; x < size*4; x += 4 {
			data = append(data,
				float32(row[x])/255,
				float32(row[x+1])/255,
				float32(row[x+2])/255,
			)
		}
	}
	return types.Tensor{Size: size, Data: data}
}

// Normalize produces the [1,target,target,3] tensor for frame and outcome.
func Normalize(frame image.Image, outcome face.Outcome, target int, margin float64) (types.Tensor, error) {
	crop, err := Crop(frame, outcome, target, margin)
	if err != nil {
		return types.Tensor{}, err
	}
	return ToTensor(crop), nil
}
