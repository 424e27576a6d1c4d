// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/andresmejia3/veritas/internal/pipeline"
)

// Backend names.
const (
	BackendWorker      = "worker"
	BackendRekognition = "rekognition"
	BackendCascade     = "cascade"
	BackendTFLite      = "tflite"
)

type Config struct {
	DatabaseURL string
	LogLevel    string

	// Model backends
	Detector       string
	Classifier     string
	CascadePath    string
	ImageModelPath string
	VideoModelPath string
	TFLiteThreads  int

	// Python worker
	Python        string
	WorkerScript  string
	WorkerTimeout time.Duration

	// AWS Rekognition
	AWSRegion     string
	MinConfidence float64

	// HTTP server
	Port        string
	UploadDir   string
	MaxUploadMB int64
	CORSOrigins []string // empty allows any origin

	Pipeline pipeline.Config
}

// Load reads .env when present, then the environment. Unset keys fall back to defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	cfg := &Config{
		DatabaseURL: databaseURL(),
		LogLevel:    getEnv("VERITAS_LOG_LEVEL", "info"),

		Detector:       getEnv("VERITAS_DETECTOR", BackendWorker),
		Classifier:     getEnv("VERITAS_CLASSIFIER", BackendWorker),
		CascadePath:    getEnv("VERITAS_CASCADE_PATH", ""),
		ImageModelPath: getEnv("VERITAS_IMAGE_MODEL", "models/image_model.h5"),
		VideoModelPath: getEnv("VERITAS_VIDEO_MODEL", "models/video_model.h5"),

		Python:       getEnv("VERITAS_PYTHON", "python3"),
		WorkerScript: getEnv("VERITAS_WORKER_SCRIPT", "python/worker.py"),

		AWSRegion: getEnv("AWS_REGION", "us-east-1"),

		Port:      getEnv("VERITAS_PORT", "5000"),
		UploadDir: getEnv("VERITAS_UPLOAD_DIR", "uploads"),

		Pipeline: pipeline.DefaultConfig(),
	}

	var err error
	if cfg.TFLiteThreads, err = getInt("VERITAS_TFLITE_THREADS", 4); err != nil {
		return nil, err
	}
	if cfg.WorkerTimeout, err = getDuration("VERITAS_WORKER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MinConfidence, err = getFloat("VERITAS_MIN_CONFIDENCE", 0); err != nil {
		return nil, err
	}
	maxUpload, err := getInt("VERITAS_MAX_UPLOAD_MB", 512)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadMB = int64(maxUpload)
	cfg.CORSOrigins = getList("VERITAS_CORS_ORIGINS")

	p := &cfg.Pipeline
	if p.SampleRate, err = getInt("VERITAS_SAMPLE_RATE", p.SampleRate); err != nil {
		return nil, err
	}
	if p.MarginFraction, err = getFloat("VERITAS_MARGIN", p.MarginFraction); err != nil {
		return nil, err
	}
	if p.Threshold, err = getFloat("VERITAS_THRESHOLD", p.Threshold); err != nil {
		return nil, err
	}
	if p.ImageTargetSize, err = getInt("VERITAS_IMAGE_SIZE", p.ImageTargetSize); err != nil {
		return nil, err
	}
	if p.VideoTargetSize, err = getInt("VERITAS_VIDEO_SIZE", p.VideoTargetSize); err != nil {
		return nil, err
	}
	if p.MaxSampledFrames, err = getInt("VERITAS_MAX_FRAMES", p.MaxSampledFrames); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend names and pipeline constants. Called after flags are applied.
func (c *Config) Validate() error {
	switch c.Detector {
	case BackendWorker, BackendRekognition, BackendCascade:
	default:
		return fmt.Errorf("unknown detector %q (want worker, rekognition or cascade)", c.Detector)
	}
	switch c.Classifier {
	case BackendWorker, BackendTFLite:
	default:
		return fmt.Errorf("unknown classifier %q (want worker or tflite)", c.Classifier)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("min confidence must be between 0 and 100, got %f", c.MinConfidence)
	}
	return c.Pipeline.Validate()
}

// databaseURL prefers DATABASE_URL, then the POSTGRES_* set. Empty disables persistence.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := getEnv("POSTGRES_DB", "veritas")
	port := getEnv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getList splits a comma separated value, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, raw)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (use '30s', '500ms')", key, raw)
	}
	return v, nil
}
