package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/veritas/internal/engine"
	"github.com/andresmejia3/veritas/internal/server"
	"github.com/andresmejia3/veritas/internal/utils"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analysis API",
	Long: `Starts the HTTP API with POST /api/analyze/image and POST /api/analyze/video.
If the models fail to load the server still starts and every analysis request
answers 500 "Required models not loaded".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			Cfg.Port = servePort
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "5000", "Port to listen on (default: VERITAS_PORT or 5000)")
	rootCmd.AddCommand(serveCmd)
}

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context) error {
	if Cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	p, err := engine.Open(ctx, Cfg)
	if err != nil {
		slog.Error("models unavailable, analysis requests will fail", "error", err)
	}
	defer p.Close()

	opts := server.Options{
		UploadDir:    Cfg.UploadDir,
		MaxUploadMB:  Cfg.MaxUploadMB,
		AllowOrigins: Cfg.CORSOrigins,
	}
	// A nil *store.Store must not become a non-nil Recorder.
	if DB != nil {
		opts.Recorder = DB
	}
	srv, err := server.New(p, opts)
	if err != nil {
		utils.ShowError("Failed to initialize server", err, nil)
		return err
	}

	httpSrv := &http.Server{
		Addr:              ":" + Cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpSrv.Addr, "persistence", DB != nil)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
