package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/veritas/internal/types"
)

// ErrNotFound is returned when an analysis ID does not exist.
var ErrNotFound = errors.New("analysis not found")

// Ground-truth labels accepted by Label.
const (
	LabelReal = "real"
	LabelFake = "fake"
)

// Store manages the PostgreSQL pool and the pgvector score traces.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables and the vector extension if they don't exist.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS media (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			mode TEXT NOT NULL,
			last_seen TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS analyses (
			id UUID PRIMARY KEY,
			media_id TEXT NOT NULL REFERENCES media(id) ON DELETE CASCADE,
			mode TEXT NOT NULL,
			classification TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			message TEXT NOT NULL,
			faced_frames INT NOT NULL,
			total_frames INT NOT NULL,
			frame_scores VECTOR,
			ground_truth TEXT CHECK (ground_truth IN ('real', 'fake')),
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS analyses_media_id_idx ON analyses (media_id);
		CREATE INDEX IF NOT EXISTS analyses_created_at_idx ON analyses (created_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveAnalysis registers the media and inserts the record in one transaction.
// An empty ID is replaced with a new UUID; ID and CreatedAt are written back.
func (s *Store) SaveAnalysis(ctx context.Context, rec *types.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return fmt.Errorf("invalid analysis id %q: %w", rec.ID, err)
	}

	// pgvector rejects zero-dimension vectors, so an empty trace is stored as NULL.
	var scores any
	if len(rec.Scores) > 0 {
		scores = pgvector.NewVector(rec.Scores)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO media (id, path, mode, last_seen)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET last_seen = NOW(), path = EXCLUDED.path
	`, rec.MediaID, rec.MediaPath, string(rec.Mode)); err != nil {
		return fmt.Errorf("register media: %w", err)
	}

	v := rec.Verdict
	err = tx.QueryRow(ctx, `
		INSERT INTO analyses (id, media_id, mode, classification, confidence, message,
			faced_frames, total_frames, frame_scores)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, rec.ID, rec.MediaID, string(rec.Mode), string(v.Classification), v.Confidence, v.Message,
		v.FacedFrames, v.TotalFrames, scores).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return tx.Commit(ctx)
}

const selectAnalysis = `
	SELECT a.id::text, a.media_id, m.path, a.mode, a.classification, a.confidence, a.message,
		a.faced_frames, a.total_frames, a.frame_scores::text, COALESCE(a.ground_truth, ''), a.created_at
	FROM analyses a JOIN media m ON m.id = a.media_id
`

func scanRecord(row pgx.Row) (types.AnalysisRecord, error) {
	var (
		rec    types.AnalysisRecord
		mode   string
		class  string
		scores *string
	)
	err := row.Scan(&rec.ID, &rec.MediaID, &rec.MediaPath, &mode, &class, &rec.Verdict.Confidence,
		&rec.Verdict.Message, &rec.Verdict.FacedFrames, &rec.Verdict.TotalFrames, &scores,
		&rec.GroundTruth, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}
	rec.Mode = types.Mode(mode)
	rec.Verdict.Classification = types.Classification(class)
	if scores != nil {
		var vec pgvector.Vector
		if err := vec.Scan(*scores); err != nil {
			return rec, fmt.Errorf("parse frame scores: %w", err)
		}
		rec.Scores = vec.Slice()
	}
	return rec, nil
}

// ListAnalyses returns the most recent analyses first.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]types.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, selectAnalysis+" ORDER BY a.created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetAnalysis fetches one analysis with its score trace.
func (s *Store) GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectAnalysis+" WHERE a.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Label attaches a ground-truth label ("real" or "fake") to an analysis.
func (s *Store) Label(ctx context.Context, id, truth string) error {
	if truth != LabelReal && truth != LabelFake {
		return fmt.Errorf("label must be %q or %q, got %q", LabelReal, LabelFake, truth)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	tag, err := s.pool.Exec(ctx, "UPDATE analyses SET ground_truth = $1 WHERE id = $2", truth, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Neighbor is an analysis whose score trace is close to a reference trace.
type Neighbor struct {
	ID       string
	Path     string
	Distance float64
}

// SimilarTraces finds analyses whose frame score trace has the same length as the
// reference and the smallest L2 distance to it.
func (s *Store) SimilarTraces(ctx context.Context, id string, limit int) ([]Neighbor, error) {
	ref, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ref.Scores) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	// <-> is the L2 distance operator in pgvector; it requires equal dimensions.
	rows, err := s.pool.Query(ctx, `
		SELECT a.id::text, m.path, a.frame_scores <-> $1 AS distance
		FROM analyses a JOIN media m ON m.id = a.media_id
		WHERE a.id <> $2 AND a.frame_scores IS NOT NULL AND vector_dims(a.frame_scores) = $3
		ORDER BY distance ASC
		LIMIT $4
	`, pgvector.NewVector(ref.Scores), id, len(ref.Scores), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ID, &n.Path, &n.Distance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Stats summarizes stored analyses and, for labelled ones, how the verdicts fared.
type Stats struct {
	Total        int
	Positive     int
	Negative     int
	Undetermined int

	TruePositive  int // verdict positive, labelled fake
	FalsePositive int // verdict positive, labelled real
	TrueNegative  int // verdict negative, labelled real
	FalseNegative int // verdict negative, labelled fake

	Since time.Time
}

// Labelled is the number of labelled analyses with a decided verdict.
func (s Stats) Labelled() int {
	return s.TruePositive + s.FalsePositive + s.TrueNegative + s.FalseNegative
}

// Accuracy over labelled, decided analyses; 0 when there are none.
func (s Stats) Accuracy() float64 {
	if s.Labelled() == 0 {
		return 0
	}
	return float64(s.TruePositive+s.TrueNegative) / float64(s.Labelled())
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var since *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE classification = 'positive'),
			COUNT(*) FILTER (WHERE classification = 'negative'),
			COUNT(*) FILTER (WHERE classification = 'undetermined'),
			COUNT(*) FILTER (WHERE classification = 'positive' AND ground_truth = 'fake'),
			COUNT(*) FILTER (WHERE classification = 'positive' AND ground_truth = 'real'),
			COUNT(*) FILTER (WHERE classification = 'negative' AND ground_truth = 'real'),
			COUNT(*) FILTER (WHERE classification = 'negative' AND ground_truth = 'fake'),
			MIN(created_at)
		FROM analyses
	`).Scan(&st.Total, &st.Positive, &st.Negative, &st.Undetermined,
		&st.TruePositive, &st.FalsePositive, &st.TrueNegative, &st.FalseNegative, &since)
	if err != nil {
		return st, err
	}
	if since != nil {
		st.Since = *since
	}
	return st, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS analyses CASCADE;
		DROP TABLE IF EXISTS media CASCADE;
	`)
	return err
}
