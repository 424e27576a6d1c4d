package pipeline

import (
	"fmt"

	"github.com/andresmejia3/veritas/internal/preprocess"
	"github.com/andresmejia3/veritas/internal/verdict"
	"github.com/andresmejia3/veritas/internal/video"
)

// Config holds the tunable constants of the analysis.
type Config struct {
	SampleRate       int     // keep every Nth decoded frame
	MarginFraction   float64 // crop margin as a fraction of the box width
	Threshold        float64 // exclusive decision threshold
	ImageTargetSize  int
	VideoTargetSize  int
	MaxSampledFrames int // 0 = no cap on classifier calls per video
}

func DefaultConfig() Config {
	return Config{
		SampleRate:      video.DefaultSampleRate,
		MarginFraction:  preprocess.DefaultMargin,
		Threshold:       verdict.DefaultThreshold,
		ImageTargetSize: 96,
		VideoTargetSize: 224,
	}
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.SampleRate < 1 {
		return fmt.Errorf("sample rate must be >= 1, got %d", c.SampleRate)
	}
	if c.MarginFraction < 0 || c.MarginFraction > 1 {
		return fmt.Errorf("margin must be between 0.0 and 1.0, got %f", c.MarginFraction)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0, got %f", c.Threshold)
	}
	if c.ImageTargetSize < 1 || c.VideoTargetSize < 1 {
		return fmt.Errorf("target sizes must be positive, got %d and %d", c.ImageTargetSize, c.VideoTargetSize)
	}
	if c.MaxSampledFrames < 0 {
		return fmt.Errorf("max sampled frames must be >= 0, got %d", c.MaxSampledFrames)
	}
	return nil
}
