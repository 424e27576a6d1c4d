//go:build tflite
// +build tflite

package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-tflite"

	"github.com/andresmejia3/veritas/internal/types"
)

// TFLiteSupported reports whether the in-process TensorFlow Lite backend was compiled in.
const TFLiteSupported = true

// TFLiteClassifier runs a converted .tflite model in-process.
// It is not safe for concurrent use; wrap it in Serialized.
type TFLiteClassifier struct {
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
	size    int
}

// NewTFLiteClassifier loads the model and checks its input is [1,size,size,3] float32.
func NewTFLiteClassifier(path string, size, threads int) (*TFLiteClassifier, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file not found: %s", path)
	}
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("cannot load model %s", path)
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(threads, 1))

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("cannot create tflite interpreter")
	}
	c := &TFLiteClassifier{model: model, options: options, interp: interp, size: size}
	if status := interp.AllocateTensors(); status != tflite.OK {
		c.Close()
		return nil, fmt.Errorf("allocate tensors: status %v", status)
	}

	input := interp.GetInputTensor(0)
	if input.Type() != tflite.Float32 || input.NumDims() != 4 ||
		input.Dim(1) != size || input.Dim(2) != size || input.Dim(3) != 3 {
		c.Close()
		return nil, fmt.Errorf("model input is not [1,%d,%d,3] float32", size, size)
	}
	return c, nil
}

func (c *TFLiteClassifier) Predict(ctx context.Context, t types.Tensor) (float64, error) {
	if err := checkSize(t, c.size); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	copy(c.interp.GetInputTensor(0).Float32s(), t.Data)
	if status := c.interp.Invoke(); status != tflite.OK {
		return 0, fmt.Errorf("tflite invoke: status %v", status)
	}
	out := c.interp.GetOutputTensor(0).Float32s()
	if len(out) == 0 {
		return 0, errors.New("tflite model produced no output")
	}
	return float64(out[0]), nil
}

func (c *TFLiteClassifier) Close() error {
	if c.interp != nil {
		c.interp.Delete()
	}
	if c.options != nil {
		c.options.Delete()
	}
	if c.model != nil {
		c.model.Delete()
	}
	return nil
}
