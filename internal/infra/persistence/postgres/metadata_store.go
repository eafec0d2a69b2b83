package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
)

// MetadataStore persists symbol identities and bar-level price snapshots.
type MetadataStore struct {
	pool *pgxpool.Pool
}

// NewMetadataStore constructs a MetadataStore backed by the provided pool.
func NewMetadataStore(pool *pgxpool.Pool) *MetadataStore {
	return &MetadataStore{pool: pool}
}

const (
	symbolUpsertSQL = `
INSERT INTO symbols (
    symbol,
    vendor,
    first_seen,
    last_seen
)
VALUES (@symbol, @vendor, @first_seen, @last_seen)
ON CONFLICT (symbol, vendor) DO UPDATE SET
    last_seen = GREATEST(symbols.last_seen, EXCLUDED.last_seen);
`

	snapshotInsertSQL = `
INSERT INTO price_snapshots (
    symbol,
    vendor,
    bar_interval,
    bar_ts,
    close_price,
    volume,
    created_at
)
VALUES (@symbol, @vendor, @bar_interval, @bar_ts, @close_price, @volume, NOW())
ON CONFLICT (symbol, vendor, bar_interval, bar_ts) DO UPDATE SET
    close_price = EXCLUDED.close_price,
    volume = EXCLUDED.volume;
`
)

// PersistSnapshots upserts the symbol row and inserts the snapshot rows in a
// single transaction; any failure rolls the whole batch back.
func (s *MetadataStore) PersistSnapshots(ctx context.Context, rec orderstore.SymbolRecord, rows []orderstore.PriceSnapshot) error {
	if s.pool == nil {
		return fmt.Errorf("metadata store: nil pool")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("metadata store: begin tx: %w", err)
	}
	if err := s.persistWith(ctx, tx, rec, rows); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("metadata store: rollback: %w (original error: %v)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("metadata store: commit: %w", err)
	}
	return nil
}

func (s *MetadataStore) persistWith(ctx context.Context, tx pgx.Tx, rec orderstore.SymbolRecord, rows []orderstore.PriceSnapshot) error {
	symbolArgs := pgx.NamedArgs{
		"symbol":     strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		"vendor":     strings.ToLower(strings.TrimSpace(rec.Vendor)),
		"first_seen": rec.FirstSeen.UTC(),
		"last_seen":  rec.LastSeen.UTC(),
	}
	if _, err := tx.Exec(ctx, symbolUpsertSQL, symbolArgs); err != nil {
		return fmt.Errorf("metadata store: upsert symbol: %w", err)
	}
	for _, row := range rows {
		closePrice, err := numericFromString(row.Close)
		if err != nil {
			return fmt.Errorf("metadata store: close price: %w", err)
		}
		args := pgx.NamedArgs{
			"symbol":       strings.ToUpper(strings.TrimSpace(row.Symbol)),
			"vendor":       strings.ToLower(strings.TrimSpace(row.Vendor)),
			"bar_interval": row.Interval,
			"bar_ts":       row.Timestamp.UTC(),
			"close_price":  closePrice,
			"volume":       row.Volume,
		}
		if _, err := tx.Exec(ctx, snapshotInsertSQL, args); err != nil {
			return fmt.Errorf("metadata store: insert snapshot: %w", err)
		}
	}
	return nil
}
