package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/veritas/internal/types"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Wrapped to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// The pgvector image ships the vector extension.
	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("veritas_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	// --- Test Scenarios ---

	fake := &types.AnalysisRecord{
		MediaID:   "vid_123",
		MediaPath: "/tmp/video.mp4",
		Mode:      types.ModeVideo,
		Verdict: types.Verdict{
			Classification: types.Positive,
			Confidence:     0.55,
			Message:        "Analyzed 2 frames with faces out of 10 total frames",
			FacedFrames:    2,
			TotalFrames:    10,
		},
		Scores: []float32{0.2, 0.9},
	}
	if err := s.SaveAnalysis(ctx, fake); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	if fake.ID == "" || fake.CreatedAt.IsZero() {
		t.Errorf("ID and CreatedAt not written back: %+v", fake)
	}

	// Undetermined analyses carry no trace.
	empty := &types.AnalysisRecord{
		MediaID:   "img_1",
		MediaPath: "/tmp/photo.jpg",
		Mode:      types.ModeImage,
		Verdict:   types.Verdict{Classification: types.Undetermined, Message: "No face detected in the image", TotalFrames: 1},
	}
	if err := s.SaveAnalysis(ctx, empty); err != nil {
		t.Fatalf("SaveAnalysis (no scores) failed: %v", err)
	}

	similar := &types.AnalysisRecord{
		MediaID:   "vid_456",
		MediaPath: "/tmp/other.mp4",
		Mode:      types.ModeVideo,
		Verdict:   types.Verdict{Classification: types.Negative, Confidence: 0.3, Message: "m", FacedFrames: 2, TotalFrames: 8},
		Scores:    []float32{0.25, 0.35},
	}
	if err := s.SaveAnalysis(ctx, similar); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}

	got, err := s.GetAnalysis(ctx, fake.ID)
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if got.MediaPath != "/tmp/video.mp4" || got.Verdict.Classification != types.Positive || len(got.Scores) != 2 {
		t.Errorf("GetAnalysis returned %+v", got)
	}
	if got.Scores[1] < 0.9-1e-6 || got.Scores[1] > 0.9+1e-6 {
		t.Errorf("Expected score ~0.9, got %f", got.Scores[1])
	}

	gotEmpty, err := s.GetAnalysis(ctx, empty.ID)
	if err != nil {
		t.Fatalf("GetAnalysis (no scores) failed: %v", err)
	}
	if gotEmpty.Scores != nil || gotEmpty.Verdict.Code() != -1 {
		t.Errorf("Expected empty trace and undetermined verdict, got %+v", gotEmpty)
	}

	if _, err := s.GetAnalysis(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	list, err := s.ListAnalyses(ctx, 10)
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("Expected 3 analyses, got %d", len(list))
	}

	neighbors, err := s.SimilarTraces(ctx, fake.ID, 5)
	if err != nil {
		t.Fatalf("SimilarTraces failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].ID != similar.ID {
		t.Errorf("Expected only %s as neighbor, got %+v", similar.ID, neighbors)
	}

	if err := s.Label(ctx, fake.ID, LabelFake); err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if err := s.Label(ctx, similar.ID, LabelFake); err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	if err := s.Label(ctx, fake.ID, "maybe"); err == nil {
		t.Error("Expected invalid label error")
	}
	if err := s.Label(ctx, "00000000-0000-0000-0000-000000000000", LabelReal); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 3 || st.Positive != 1 || st.Negative != 1 || st.Undetermined != 1 {
		t.Errorf("Unexpected counts: %+v", st)
	}
	if st.TruePositive != 1 || st.FalseNegative != 1 || st.Accuracy() != 0.5 {
		t.Errorf("Unexpected confusion counts: %+v", st)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}

func TestStatsAccuracy(t *testing.T) {
	tests := []struct {
		name string
		st   Stats
		want float64
	}{
		{"No Labels", Stats{Total: 4}, 0},
		{"All Correct", Stats{TruePositive: 2, TrueNegative: 3}, 1},
		{"Half", Stats{TruePositive: 1, FalsePositive: 1, TrueNegative: 1, FalseNegative: 1}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.Accuracy(); got != tt.want {
				t.Errorf("Accuracy() = %f, want %f", got, tt.want)
			}
		})
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
