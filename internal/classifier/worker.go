package classifier

import (
	"context"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/worker"
)

// predictor is the part of the Python worker the classifier uses.
type predictor interface {
	Predict(t types.Tensor) (float64, error)
	Close() error
}

// WorkerClassifier runs a Keras model inside a Python worker process.
type WorkerClassifier struct {
	w    predictor
	proc *worker.PythonWorker
	size int
}

// NewWorkerClassifier starts a classify-mode worker for the model at modelPath.
// size is the model's square input edge (96 or 224).
func NewWorkerClassifier(ctx context.Context, id int, cfg worker.Config, modelPath string, size int) (*WorkerClassifier, error) {
	cfg.Mode = worker.ModeClassify
	cfg.ModelPath = modelPath
	w, err := worker.NewPythonWorker(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	return &WorkerClassifier{w: w, proc: w, size: size}, nil
}

func (c *WorkerClassifier) Predict(ctx context.Context, t types.Tensor) (float64, error) {
	if err := checkSize(t, c.size); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.w.Predict(t)
}

// Worker exposes the process so callers can print its captured stderr.
func (c *WorkerClassifier) Worker() *worker.PythonWorker {
	return c.proc
}

func (c *WorkerClassifier) Close() error {
	return c.w.Close()
}
