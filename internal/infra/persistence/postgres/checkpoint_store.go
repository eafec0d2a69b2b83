package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
)

// CheckpointStore persists consumer-group positions per topic.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore constructs a CheckpointStore backed by the provided pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

const (
	checkpointUpsertSQL = `
INSERT INTO consumer_checkpoints (
    consumer_group,
    topic,
    last_event_id,
    updated_at
)
VALUES (@group, @topic, @last_event_id, @updated_at)
ON CONFLICT (consumer_group, topic) DO UPDATE SET
    last_event_id = EXCLUDED.last_event_id,
    updated_at = EXCLUDED.updated_at;
`

	checkpointSelectSQL = `
SELECT consumer_group, topic, last_event_id, updated_at
FROM consumer_checkpoints
WHERE consumer_group = $1 AND topic = $2;
`
)

// Save upserts the checkpoint row for the group and topic.
func (s *CheckpointStore) Save(ctx context.Context, cp orderstore.Checkpoint) error {
	if s.pool == nil {
		return fmt.Errorf("checkpoint store: nil pool")
	}
	group := strings.TrimSpace(cp.Group)
	topic := strings.TrimSpace(cp.Topic)
	if group == "" || topic == "" {
		return fmt.Errorf("checkpoint store: group and topic required")
	}
	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	args := pgx.NamedArgs{
		"group":         group,
		"topic":         topic,
		"last_event_id": strings.TrimSpace(cp.LastEventID),
		"updated_at":    updatedAt.UTC(),
	}
	if _, err := s.pool.Exec(ctx, checkpointUpsertSQL, args); err != nil {
		return fmt.Errorf("checkpoint store: upsert: %w", err)
	}
	return nil
}

// Load returns the stored checkpoint or nil when none exists.
func (s *CheckpointStore) Load(ctx context.Context, group, topic string) (*orderstore.Checkpoint, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("checkpoint store: nil pool")
	}
	row := s.pool.QueryRow(ctx, checkpointSelectSQL, strings.TrimSpace(group), strings.TrimSpace(topic))
	var cp orderstore.Checkpoint
	if err := row.Scan(&cp.Group, &cp.Topic, &cp.LastEventID, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint store: load: %w", err)
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return &cp, nil
}
