package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/engine"
	"github.com/andresmejia3/veritas/internal/pipeline"
	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/utils"
)

var (
	// DB is the optional database shared by subcommands. Nil when no URL is configured.
	DB *store.Store
	// Cfg is the loaded configuration with flag overrides applied.
	Cfg *config.Config

	dbURL          string
	jsonOutput     bool
	logLevel       string
	detectorFlag   string
	classifierFlag string
	thresholdFlag  float64
	marginFlag     float64
)

// errNoDatabase is returned by commands that need persistence when none is configured.
var errNoDatabase = errors.New("no database configured (use --db, DATABASE_URL or POSTGRES_HOST)")

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "veritas",
	Short:   "Face-anchored deepfake detection for images and videos",
	Version: Version, // This enables the --version flag
	// Execute prints the error once; commands report details with utils.ShowError.
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Flags parsed fine, so later failures are not usage errors.
		cmd.SilenceUsage = true

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		Cfg = cfg

		logger, err := utils.NewLogger(os.Stderr, cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		// Persistence is opt-in.
		if cfg.DatabaseURL == "" {
			return nil
		}
		DB, err = store.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

// applyFlags overrides config values with flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("detector") {
		cfg.Detector = detectorFlag
	}
	if flags.Changed("classifier") {
		cfg.Classifier = classifierFlag
	}
	if flags.Changed("threshold") {
		cfg.Pipeline.Threshold = thresholdFlag
	}
	if flags.Changed("margin") {
		cfg.Pipeline.MarginFraction = marginFlag
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL or POSTGRES_* env, disabled when unset)")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON on stdout")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&detectorFlag, "detector", config.BackendWorker, "Face detector backend: worker, rekognition, cascade")
	pf.StringVar(&classifierFlag, "classifier", config.BackendWorker, "Classifier backend: worker, tflite")
	pf.Float64Var(&thresholdFlag, "threshold", 0.5, "Decision threshold; confidences above it are classified as deepfake")
	pf.Float64Var(&marginFlag, "margin", 0.2, "Crop margin as a fraction of the face width")
}

func requireDB() error {
	if DB == nil {
		utils.ShowError("Persistence is disabled", errNoDatabase, nil)
		return errNoDatabase
	}
	return nil
}

// openPipeline loads the configured backends for a one-shot command.
func openPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	fmt.Fprintln(os.Stderr, "🚀 Loading models...")
	p, err := engine.Open(ctx, Cfg)
	if err != nil {
		utils.ShowError("Failed to load models", err, nil)
		return nil, err
	}
	return p, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
