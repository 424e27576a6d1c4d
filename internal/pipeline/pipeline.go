// Package pipeline wires face location, normalization, classification and
// aggregation into the image and video analysis entry points.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/andresmejia3/veritas/internal/classifier"
	"github.com/andresmejia3/veritas/internal/face"
	"github.com/andresmejia3/veritas/internal/preprocess"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/verdict"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/andresmejia3/veritas/internal/worker"
)

var (
	// ErrModelUnavailable means a detector or classifier failed to load at startup.
	ErrModelUnavailable = errors.New("required models not loaded")
	// ErrClassifierInvocation means a loaded classifier failed on a request. Never retried.
	ErrClassifierInvocation = errors.New("classifier invocation failed")
)

// Handles are the process-wide, read-only collaborators shared by every request.
type Handles struct {
	Detector        face.Detector
	ImageClassifier classifier.Classifier
	VideoClassifier classifier.Classifier
}

// Close releases every loaded handle.
func (h Handles) Close() error {
	var errs []error
	if h.Detector != nil {
		errs = append(errs, h.Detector.Close())
	}
	if h.ImageClassifier != nil {
		errs = append(errs, h.ImageClassifier.Close())
	}
	if h.VideoClassifier != nil {
		errs = append(errs, h.VideoClassifier.Close())
	}
	return errors.Join(errs...)
}

// Pipeline analyzes images and videos. It is safe for concurrent use when its
// handles are.
type Pipeline struct {
	cfg     Config
	locator *face.Locator
	handles Handles
	err     error

	// lost is set once a backend process stops mid-request; it cannot recover.
	mu   sync.Mutex
	lost error
}

// New validates cfg and builds a ready pipeline. Missing handles are ErrModelUnavailable.
func New(h Handles, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if h.Detector == nil || h.ImageClassifier == nil || h.VideoClassifier == nil {
		return nil, fmt.Errorf("%w: detector and both classifiers are required", ErrModelUnavailable)
	}
	locator, err := face.NewLocator(h.Detector)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return &Pipeline{cfg: cfg, locator: locator, handles: h}, nil
}

// Unavailable returns a pipeline that refuses every request with ErrModelUnavailable.
func Unavailable(cause error) *Pipeline {
	if cause == nil {
		cause = ErrModelUnavailable
	}
	if !errors.Is(cause, ErrModelUnavailable) {
		cause = fmt.Errorf("%w: %w", ErrModelUnavailable, cause)
	}
	return &Pipeline{cfg: DefaultConfig(), err: cause}
}

// Ready returns the load failure of an Unavailable pipeline, or the failure of a
// backend process that stopped while serving, or nil.
func (p *Pipeline) Ready() error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost
}

// backendLost maps a stopped worker to ErrModelUnavailable and remembers it.
// Other errors are returned unchanged.
func (p *Pipeline) backendLost(err error) error {
	if !errors.Is(err, worker.ErrWorkerBroken) {
		return err
	}
	wrapped := fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	p.mu.Lock()
	if p.lost == nil {
		p.lost = wrapped
	}
	p.mu.Unlock()
	return wrapped
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

// Handles returns the loaded backends. Empty for an Unavailable pipeline.
func (p *Pipeline) Handles() Handles {
	return p.handles
}

// Close releases the handles. Unavailable pipelines own nothing.
func (p *Pipeline) Close() error {
	if p.err != nil {
		return nil
	}
	return p.handles.Close()
}

type runOptions struct {
	progress func()
	cropHook func(index int, crop *image.RGBA)
}

// Option customizes a single analysis call.
type Option func(*runOptions)

// WithProgress is called once per decoded video frame.
func WithProgress(fn func()) Option {
	return func(o *runOptions) { o.progress = fn }
}

// WithCropHook receives every normalized face crop before it is classified.
func WithCropHook(fn func(index int, crop *image.RGBA)) Option {
	return func(o *runOptions) { o.cropHook = fn }
}

func collect(opts []Option) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AnalyzeImage scores the largest face in a still image. The classifier is not
// invoked when no face is found.
func (p *Pipeline) AnalyzeImage(ctx context.Context, frame image.Image, opts ...Option) (types.Analysis, error) {
	if err := p.Ready(); err != nil {
		return types.Analysis{}, err
	}
	o := collect(opts)

	outcome, err := p.locator.Locate(ctx, frame)
	if err != nil {
		return types.Analysis{}, p.backendLost(fmt.Errorf("locate face: %w", err))
	}
	if !outcome.Found() {
		return types.Analysis{
			Verdict: verdict.NoFaceImage(),
			Frames:  []types.FrameScore{{Index: 0}},
		}, nil
	}

	score, err := p.score(ctx, p.handles.ImageClassifier, frame, outcome, 0, p.cfg.ImageTargetSize, o)
	if err != nil {
		return types.Analysis{}, err
	}
	return types.Analysis{
		Verdict: verdict.ForImage(score, p.cfg.Threshold),
		Frames:  []types.FrameScore{{Index: 0, Value: score, Present: true}},
	}, nil
}

// AnalyzeVideo samples src, scores the largest face in each sampled frame and
// aggregates the scores. It takes ownership of src and closes it on every path.
func (p *Pipeline) AnalyzeVideo(ctx context.Context, src video.Source, opts ...Option) (types.Analysis, error) {
	if src == nil {
		return types.Analysis{}, errors.New("nil frame source")
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Debug("frame source close", "error", err)
		}
	}()
	if err := p.Ready(); err != nil {
		return types.Analysis{}, err
	}
	o := collect(opts)

	samplerOpts := []video.SamplerOption{video.WithContext(ctx)}
	if o.progress != nil {
		samplerOpts = append(samplerOpts, video.WithFrameHook(o.progress))
	}
	sampler, err := video.NewSampler(src, p.cfg.SampleRate, samplerOpts...)
	if err != nil {
		return types.Analysis{}, err
	}

	acc := verdict.NewAccumulator(p.cfg.Threshold)
	sampled := 0
	for index, frame := range sampler.Frames() {
		// Past the cap frames are still decoded so the total stays exact.
		if p.cfg.MaxSampledFrames > 0 && sampled >= p.cfg.MaxSampledFrames {
			continue
		}
		sampled++

		outcome, err := p.locator.Locate(ctx, frame)
		if err != nil {
			return types.Analysis{}, p.backendLost(fmt.Errorf("locate face in frame %d: %w", index, err))
		}
		if !outcome.Found() {
			slog.Debug("no face", "frame", index)
			acc.Add(types.FrameScore{Index: index})
			continue
		}

		score, err := p.score(ctx, p.handles.VideoClassifier, frame, outcome, index, p.cfg.VideoTargetSize, o)
		if err != nil {
			return types.Analysis{}, err
		}
		slog.Debug("frame scored", "frame", index, "score", score)
		acc.Add(types.FrameScore{Index: index, Value: score, Present: true})
	}

	if err := ctx.Err(); err != nil {
		return types.Analysis{}, err
	}

	return types.Analysis{
		Verdict: acc.Verdict(sampler.Seen()),
		Frames:  acc.Frames(),
	}, nil
}

func (p *Pipeline) score(ctx context.Context, c classifier.Classifier, frame image.Image, outcome face.Outcome, index, target int, o runOptions) (float64, error) {
	crop, err := preprocess.Crop(frame, outcome, target, p.cfg.MarginFraction)
	if err != nil {
		return 0, fmt.Errorf("normalize frame %d: %w", index, err)
	}
	if o.cropHook != nil {
		o.cropHook(index, crop)
	}

	score, err := c.Predict(ctx, preprocess.ToTensor(crop))
	if err != nil {
		return 0, p.backendLost(fmt.Errorf("%w: frame %d: %w", ErrClassifierInvocation, index, err))
	}
	if err := classifier.CheckScore(score); err != nil {
		return 0, fmt.Errorf("%w: frame %d: %w", ErrClassifierInvocation, index, err)
	}
	return score, nil
}
