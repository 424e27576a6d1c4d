// Package engine loads the detector and classifier backends named in the config.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"

	"github.com/andresmejia3/veritas/internal/classifier"
	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/face"
	"github.com/andresmejia3/veritas/internal/pipeline"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/andresmejia3/veritas/internal/worker"
)

// Load starts every backend. Any failure closes what was already loaded and is
// reported as pipeline.ErrModelUnavailable.
func Load(ctx context.Context, cfg *config.Config) (pipeline.Handles, error) {
	var h pipeline.Handles
	fail := func(what string, err error) (pipeline.Handles, error) {
		if cerr := h.Close(); cerr != nil {
			slog.Debug("closing partially loaded backends", "error", cerr)
		}
		return pipeline.Handles{}, fmt.Errorf("%w: %s: %w", pipeline.ErrModelUnavailable, what, err)
	}

	wcfg := worker.Config{
		Python:      cfg.Python,
		Script:      cfg.WorkerScript,
		ReadTimeout: cfg.WorkerTimeout,
	}

	detector, err := loadDetector(ctx, cfg, wcfg)
	if err != nil {
		return fail("face detector", err)
	}
	h.Detector = detector
	slog.Info("face detector loaded", "backend", cfg.Detector)

	img, err := loadClassifier(ctx, cfg, wcfg, 1, cfg.ImageModelPath, cfg.Pipeline.ImageTargetSize)
	if err != nil {
		return fail("image classifier", err)
	}
	h.ImageClassifier = img

	vid, err := loadClassifier(ctx, cfg, wcfg, 2, cfg.VideoModelPath, cfg.Pipeline.VideoTargetSize)
	if err != nil {
		return fail("video classifier", err)
	}
	h.VideoClassifier = vid
	slog.Info("classifiers loaded", "backend", cfg.Classifier,
		"image_model", cfg.ImageModelPath, "video_model", cfg.VideoModelPath)

	return h, nil
}

// Open loads the backends and builds the pipeline. A load failure yields an
// Unavailable pipeline alongside the error so servers can keep answering.
func Open(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, error) {
	h, err := Load(ctx, cfg)
	if err != nil {
		return pipeline.Unavailable(err), err
	}
	p, err := pipeline.New(h, cfg.Pipeline)
	if err != nil {
		h.Close()
		return pipeline.Unavailable(err), err
	}
	return p, nil
}

func loadDetector(ctx context.Context, cfg *config.Config, wcfg worker.Config) (face.Detector, error) {
	switch cfg.Detector {
	case config.BackendWorker:
		return face.NewWorkerDetector(ctx, wcfg, cfg.CascadePath)
	case config.BackendRekognition:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return face.NewRekognitionDetector(rekognition.NewFromConfig(awsCfg), float32(cfg.MinConfidence))
	case config.BackendCascade:
		if !face.CascadeSupported {
			return nil, errors.New("this binary was built without -tags gocv")
		}
		return face.NewCascadeDetector(cfg.CascadePath)
	default:
		return nil, fmt.Errorf("unknown detector %q", cfg.Detector)
	}
}

func loadClassifier(ctx context.Context, cfg *config.Config, wcfg worker.Config, id int, path string, size int) (classifier.Classifier, error) {
	switch cfg.Classifier {
	case config.BackendWorker:
		c, err := classifier.NewWorkerClassifier(ctx, id, wcfg, path, size)
		if err != nil {
			return nil, err
		}
		return classifier.NewSerialized(c), nil
	case config.BackendTFLite:
		if !classifier.TFLiteSupported {
			return nil, errors.New("this binary was built without -tags tflite")
		}
		c, err := classifier.NewTFLiteClassifier(path, size, cfg.TFLiteThreads)
		if err != nil {
			return nil, err
		}
		return classifier.NewSerialized(c), nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}
}

// WorkerLogs returns the first backend process that captured stderr output, for
// utils.ShowError. Nil when no backend is a worker or none logged anything.
func WorkerLogs(h pipeline.Handles) *utils.SafeCommand {
	var procs []*worker.PythonWorker
	if d, ok := h.Detector.(*face.WorkerDetector); ok {
		procs = append(procs, d.Worker())
	}
	for _, c := range []classifier.Classifier{h.ImageClassifier, h.VideoClassifier} {
		if s, ok := c.(*classifier.Serialized); ok {
			c = s.Unwrap()
		}
		if wc, ok := c.(*classifier.WorkerClassifier); ok {
			procs = append(procs, wc.Worker())
		}
	}
	for _, p := range procs {
		if p != nil && p.Cmd != nil && p.Cmd.Stderr.Len() > 0 {
			return p.Cmd
		}
	}
	return nil
}
