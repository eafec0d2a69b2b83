package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
)

// RunStore records router and backtest run lifecycle rows.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore constructs a RunStore backed by the provided pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const (
	runInsertSQL = `
INSERT INTO runs (
    run_id,
    kind,
    symbol,
    strategy,
    status,
    started_at,
    metadata,
    created_at
)
VALUES (@run_id, @kind, @symbol, @strategy, @status, @started_at, @metadata::jsonb, NOW())
ON CONFLICT (run_id) DO NOTHING;
`

	runFinishSQL = `
UPDATE runs
SET status = @status,
    finished_at = @finished_at
WHERE run_id = @run_id;
`
)

// CreateRun inserts the run row when it starts.
func (s *RunStore) CreateRun(ctx context.Context, run orderstore.Run) error {
	if s.pool == nil {
		return fmt.Errorf("run store: nil pool")
	}
	if strings.TrimSpace(run.RunID) == "" {
		return fmt.Errorf("run store: run id required")
	}
	metadata, err := encodeParams(run.Metadata)
	if err != nil {
		return fmt.Errorf("run store: encode metadata: %w", err)
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	args := pgx.NamedArgs{
		"run_id":     strings.TrimSpace(run.RunID),
		"kind":       strings.TrimSpace(run.Kind),
		"symbol":     strings.ToUpper(strings.TrimSpace(run.Symbol)),
		"strategy":   strings.TrimSpace(run.Strategy),
		"status":     strings.TrimSpace(run.Status),
		"started_at": startedAt.UTC(),
		"metadata":   metadata,
	}
	if _, err := s.pool.Exec(ctx, runInsertSQL, args); err != nil {
		return fmt.Errorf("run store: insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the terminal status and completion time.
func (s *RunStore) FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("run store: nil pool")
	}
	args := pgx.NamedArgs{
		"run_id":      strings.TrimSpace(runID),
		"status":      strings.TrimSpace(status),
		"finished_at": finishedAt.UTC(),
	}
	if _, err := s.pool.Exec(ctx, runFinishSQL, args); err != nil {
		return fmt.Errorf("run store: finish run: %w", err)
	}
	return nil
}
