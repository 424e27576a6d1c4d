//go:build !tflite
// +build !tflite

package classifier

import (
	"context"
	"errors"

	"github.com/andresmejia3/veritas/internal/types"
)

// TFLiteSupported reports whether the in-process TensorFlow Lite backend was compiled in.
const TFLiteSupported = false

var errNoTFLite = errors.New("tflite classifier requires a build with -tags tflite")

type TFLiteClassifier struct{}

func NewTFLiteClassifier(path string, size, threads int) (*TFLiteClassifier, error) {
	return nil, errNoTFLite
}

func (c *TFLiteClassifier) Predict(ctx context.Context, t types.Tensor) (float64, error) {
	return 0, errNoTFLite
}

func (c *TFLiteClassifier) Close() error { return nil }
