// Package classifier holds the deepfake classifier backends. Each one maps a
// [1,T,T,3] tensor to a single confidence in [0,1].
package classifier

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/andresmejia3/veritas/internal/types"
)

// Classifier scores one normalized face tensor.
type Classifier interface {
	Predict(ctx context.Context, t types.Tensor) (float64, error)
	Close() error
}

// CheckScore rejects outputs that cannot be a probability.
func CheckScore(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("classifier output %v outside [0,1]", v)
	}
	return nil
}

// Serialized allows one Predict at a time on the wrapped classifier.
type Serialized struct {
	mu    sync.Mutex
	inner Classifier
}

func NewSerialized(c Classifier) *Serialized {
	return &Serialized{inner: c}
}

func (s *Serialized) Predict(ctx context.Context, t types.Tensor) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Predict(ctx, t)
}

// Unwrap returns the wrapped classifier.
func (s *Serialized) Unwrap() Classifier {
	return s.inner
}

func (s *Serialized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}

func checkSize(t types.Tensor, want int) error {
	if t.Size != want {
		return fmt.Errorf("tensor size %d does not match model input %d", t.Size, want)
	}
	if len(t.Data) != want*want*3 {
		return fmt.Errorf("tensor has %d values, want %d", len(t.Data), want*want*3)
	}
	return nil
}
