// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/andresmejia3/veritas/internal/pipeline"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/andresmejia3/veritas/internal/video"
)

var (
	imageExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true}
	videoExtensions = map[string]bool{"mp4": true, "avi": true, "mov": true}
)

// Analyzer is the part of the pipeline the HTTP layer drives.
type Analyzer interface {
	Ready() error
	AnalyzeImage(ctx context.Context, frame image.Image, opts ...pipeline.Option) (types.Analysis, error)
	AnalyzeVideo(ctx context.Context, src video.Source, opts ...pipeline.Option) (types.Analysis, error)
}

// Recorder persists finished analyses. Optional.
type Recorder interface {
	SaveAnalysis(ctx context.Context, rec *types.AnalysisRecord) error
}

// SourceOpener starts decoding the video at path.
type SourceOpener func(ctx context.Context, path string) (video.Source, error)

type Options struct {
	UploadDir    string
	MaxUploadMB  int64
	AllowOrigins []string // empty allows any origin
	Recorder     Recorder
	OpenVideo    SourceOpener
}

type Server struct {
	analyzer Analyzer
	opts     Options
}

// Response mirrors the JSON body returned by both analysis endpoints.
type Response struct {
	ID             string  `json:"id"`
	IsDeepfake     int     `json:"is_deepfake"`
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Message        string  `json:"message"`
}

func New(a Analyzer, opts Options) (*Server, error) {
	if a == nil {
		return nil, errors.New("nil analyzer")
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 512
	}
	if opts.OpenVideo == nil {
		opts.OpenVideo = func(ctx context.Context, path string) (video.Source, error) {
			return video.Open(ctx, path, video.DecoderRaw)
		}
	}
	if err := os.MkdirAll(opts.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Server{analyzer: a, opts: opts}, nil
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(cors.New(s.corsConfig()))
	r.MaxMultipartMemory = 32 << 20

	r.GET("/healthz", s.health)
	api := r.Group("/api/analyze")
	{
		api.POST("/image", s.analyzeImage)
		api.POST("/video", s.analyzeVideo)
	}
	return r
}

// corsConfig allows every origin unless Options.AllowOrigins narrows it.
func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.opts.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.AllowOrigins
	}
	return cfg
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.analyzer.Ready(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /api/analyze/image
func (s *Server) analyzeImage(c *gin.Context) {
	path, name, ok := s.receive(c, imageExtensions, "Invalid file type. Please upload a JPG or PNG image.")
	if !ok {
		return
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	frame, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to analyze the image: " + err.Error()})
		return
	}

	analysis, err := s.analyzer.AnalyzeImage(c.Request.Context(), frame)
	s.respond(c, path, name, types.ModeImage, analysis, err)
}

// POST /api/analyze/video
func (s *Server) analyzeVideo(c *gin.Context) {
	path, name, ok := s.receive(c, videoExtensions, "Invalid file type. Please upload an MP4, AVI, or MOV video.")
	if !ok {
		return
	}
	defer os.Remove(path)

	src, err := s.opts.OpenVideo(c.Request.Context(), path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open the video: " + err.Error()})
		return
	}
	analysis, err := s.analyzer.AnalyzeVideo(c.Request.Context(), src)
	s.respond(c, path, name, types.ModeVideo, analysis, err)
}

// receive validates the multipart upload and stores it under a UUID name.
// It writes the error response itself and reports false on failure.
func (s *Server) receive(c *gin.Context, allowed map[string]bool, invalidMsg string) (string, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadMB<<20)

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file part"})
		return "", "", false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Filename), "."))
	if file.Filename == "" || !allowed[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidMsg})
		return "", "", false
	}
	if err := s.analyzer.Ready(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Required models not loaded"})
		return "", "", false
	}

	dst := filepath.Join(s.opts.UploadDir, uuid.NewString()+"."+ext)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save upload: " + err.Error()})
		return "", "", false
	}
	return dst, filepath.Base(file.Filename), true
}

func (s *Server) respond(c *gin.Context, path, name string, mode types.Mode, analysis types.Analysis, err error) {
	if errors.Is(err, pipeline.ErrModelUnavailable) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Required models not loaded"})
		return
	}
	if err != nil {
		slog.Error("analysis failed", "mode", mode, "file", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	v := analysis.Verdict
	id := uuid.NewString()
	if s.opts.Recorder != nil {
		mediaID, err := utils.GenerateMediaID(path)
		if err == nil {
			rec := &types.AnalysisRecord{
				ID:        id,
				MediaID:   mediaID,
				MediaPath: name,
				Mode:      mode,
				Verdict:   v,
				Scores:    presentScores(analysis.Frames),
			}
			err = s.opts.Recorder.SaveAnalysis(c.Request.Context(), rec)
		}
		if err != nil {
			slog.Warn("could not persist analysis", "id", id, "error", err)
		}
	}

	c.JSON(http.StatusOK, Response{
		ID:             id,
		IsDeepfake:     v.Code(),
		Classification: string(v.Classification),
		Confidence:     v.Confidence,
		Message:        v.Message,
	})
}

func presentScores(frames []types.FrameScore) []float32 {
	var out []float32
	for _, f := range frames {
		if f.Present {
			out = append(out, float32(f.Value))
		}
	}
	return out
}
