package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"iter"
	"log/slog"
)

// DefaultSampleRate keeps every 5th decoded frame.
const DefaultSampleRate = 5

// Sampler walks a Source once and yields every rate-th frame with its 0-based index.
type Sampler struct {
	src     Source
	rate    int
	ctx     context.Context
	onFrame func()

	seen     int
	consumed bool
	err      error
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithFrameHook is called once per decoded frame, sampled or not.
func WithFrameHook(fn func()) SamplerOption {
	return func(s *Sampler) { s.onFrame = fn }
}

// WithContext stops the walk between frames once ctx is done.
func WithContext(ctx context.Context) SamplerOption {
	return func(s *Sampler) { s.ctx = ctx }
}

// NewSampler wraps src. The Sampler does not close src.
func NewSampler(src Source, rate int, opts ...SamplerOption) (*Sampler, error) {
	if src == nil {
		return nil, errors.New("nil frame source")
	}
	if rate < 1 {
		return nil, fmt.Errorf("sample rate must be >= 1, got %d", rate)
	}
	s := &Sampler{src: src, rate: rate, ctx: context.Background()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Frames yields (index, frame) for index mod rate == 0. It is single-pass: a second
// call yields nothing. A decode error ends the sequence and is available from Err.
func (s *Sampler) Frames() iter.Seq2[int, image.Image] {
	return func(yield func(int, image.Image) bool) {
		if s.consumed {
			return
		}
		s.consumed = true

		for {
			if err := s.ctx.Err(); err != nil {
				s.err = err
				return
			}
			frame, err := s.src.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.err = err
					slog.Warn("frame decoding stopped", "frame", s.seen, "error", err)
				}
				return
			}
			index := s.seen
			s.seen++
			if s.onFrame != nil {
				s.onFrame()
			}
			if index%s.rate != 0 {
				continue
			}
			if !yield(index, frame) {
				return
			}
		}
	}
}

// Seen is the number of frames decoded so far, sampled or not.
func (s *Sampler) Seen() int {
	return s.seen
}

// Err reports why the walk stopped early; nil after a clean end of stream.
func (s *Sampler) Err() error {
	return s.err
}
