package face

import (
	"context"
	"image"
	"sync"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/worker"
)

// WorkerDetector runs the Haar cascade inside a Python worker process.
type WorkerDetector struct {
	mu sync.Mutex
	w  *worker.PythonWorker
}

// NewWorkerDetector starts a detect-mode worker. cascadePath may be empty to use
// OpenCV's bundled frontal-face cascade.
func NewWorkerDetector(ctx context.Context, cfg worker.Config, cascadePath string) (*WorkerDetector, error) {
	cfg.Mode = worker.ModeDetect
	cfg.ModelPath = cascadePath
	w, err := worker.NewPythonWorker(ctx, 0, cfg)
	if err != nil {
		return nil, err
	}
	return &WorkerDetector{w: w}, nil
}

// Detect sends one frame; the worker handles one request at a time.
func (d *WorkerDetector) Detect(ctx context.Context, gray *image.Gray) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w.DetectFaces(gray)
}

// Worker exposes the process so callers can print its captured stderr.
func (d *WorkerDetector) Worker() *worker.PythonWorker {
	return d.w
}

func (d *WorkerDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w.Close()
}
