package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env
	for _, k := range []string{"DATABASE_URL", "POSTGRES_HOST", "VERITAS_DETECTOR", "VERITAS_SAMPLE_RATE", "VERITAS_THRESHOLD"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want persistence disabled", cfg.DatabaseURL)
	}
	if cfg.Detector != BackendWorker || cfg.Classifier != BackendWorker {
		t.Errorf("backends = %s/%s", cfg.Detector, cfg.Classifier)
	}
	p := cfg.Pipeline
	if p.SampleRate != 5 || p.MarginFraction != 0.2 || p.Threshold != 0.5 || p.ImageTargetSize != 96 || p.VideoTargetSize != 224 {
		t.Errorf("pipeline defaults = %+v", p)
	}
	if cfg.WorkerTimeout != 30*time.Second {
		t.Errorf("WorkerTimeout = %v", cfg.WorkerTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "")
	t.Setenv("POSTGRES_PORT", "")
	t.Setenv("VERITAS_SAMPLE_RATE", "10")
	t.Setenv("VERITAS_THRESHOLD", "0.7")
	t.Setenv("VERITAS_DETECTOR", "rekognition")
	t.Setenv("VERITAS_WORKER_TIMEOUT", "5s")
	t.Setenv("VERITAS_CORS_ORIGINS", "http://localhost:5173, ,https://app.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if want := "postgres://u:p@db:5432/veritas"; cfg.DatabaseURL != want {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, want)
	}
	if cfg.Pipeline.SampleRate != 10 || cfg.Pipeline.Threshold != 0.7 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Detector != BackendRekognition || cfg.WorkerTimeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://app.example.com" {
		t.Errorf("CORSOrigins = %q", cfg.CORSOrigins)
	}
}

func TestLoad_DatabaseURLWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://example/veritas")
	t.Setenv("POSTGRES_HOST", "ignored")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "postgres://example/veritas" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"VERITAS_SAMPLE_RATE", "five"},
		{"VERITAS_THRESHOLD", "high"},
		{"VERITAS_WORKER_TIMEOUT", "forever"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VERITAS_DETECTOR", "")
	t.Setenv("VERITAS_CLASSIFIER", "")
	base, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Unknown Detector", func(c *Config) { c.Detector = "yolo" }},
		{"Unknown Classifier", func(c *Config) { c.Classifier = "onnx" }},
		{"Bad Confidence", func(c *Config) { c.MinConfidence = 101 }},
		{"Bad Pipeline", func(c *Config) { c.Pipeline.SampleRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("VERITAS_PORT=9090\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that already exist, even empty ones.
	t.Setenv("VERITAS_PORT", "")
	os.Unsetenv("VERITAS_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090 from .env", cfg.Port)
	}
}
