package face

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/andresmejia3/veritas/internal/types"
)

// RekognitionAPI is the subset of the Rekognition client the detector needs.
type RekognitionAPI interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// RekognitionDetector asks AWS Rekognition for face boxes.
type RekognitionDetector struct {
	client        RekognitionAPI
	minConfidence float32 // percent, 0 keeps everything
	mu            sync.Mutex
}

// NewRekognitionDetector wraps a Rekognition client.
func NewRekognitionDetector(client RekognitionAPI, minConfidence float32) (*RekognitionDetector, error) {
	if client == nil {
		return nil, errors.New("rekognition client is not initialized")
	}
	return &RekognitionDetector{client: client, minConfidence: minConfidence}, nil
}

// Detect uploads the luminance frame as JPEG and converts ratio boxes to pixels.
func (d *RekognitionDetector) Detect(ctx context.Context, gray *image.Gray) ([]types.BoundingBox, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gray, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame for rekognition: %w", err)
	}

	d.mu.Lock()
	out, err := d.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image: &rektypes.Image{Bytes: buf.Bytes()},
	})
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rekognition DetectFaces: %w", err)
	}

	b := gray.Bounds()
	return convertFaceDetails(out.FaceDetails, d.minConfidence, b.Dx(), b.Dy()), nil
}

func convertFaceDetails(details []rektypes.FaceDetail, minConfidence float32, width, height int) []types.BoundingBox {
	boxes := make([]types.BoundingBox, 0, len(details))
	for _, fd := range details {
		bb := fd.BoundingBox
		if bb == nil || bb.Left == nil || bb.Top == nil || bb.Width == nil || bb.Height == nil {
			continue
		}
		if fd.Confidence != nil && *fd.Confidence < minConfidence {
			continue
		}
		boxes = append(boxes, types.BoundingBox{
			X: int(math.Round(float64(*bb.Left) * float64(width))),
			Y: int(math.Round(float64(*bb.Top) * float64(height))),
			W: int(math.Round(float64(*bb.Width) * float64(width))),
			H: int(math.Round(float64(*bb.Height) * float64(height))),
		})
	}
	return boxes
}

// Close is a no-op; the AWS client holds no per-detector resources.
func (d *RekognitionDetector) Close() error {
	return nil
}
