package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
)

// OrderStore persists routed order intents and their fills.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore constructs an OrderStore backed by the provided pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const (
	orderInsertSQL = `
INSERT INTO orders (
    id,
    run_id,
    symbol,
    strategy,
    side,
    qty,
    notional,
    price_hint,
    status,
    broker_order_id,
    placed_at,
    params,
    created_at,
    updated_at
)
VALUES (
    @id,
    @run_id,
    @symbol,
    @strategy,
    @side,
    @qty,
    @notional,
    @price_hint,
    @status,
    @broker_order_id,
    @placed_at,
    @params::jsonb,
    NOW(),
    NOW()
)
ON CONFLICT (id) DO NOTHING;
`

	fillInsertSQL = `
INSERT INTO fills (
    order_id,
    seq,
    qty,
    price,
    filled_at,
    created_at
)
VALUES (
    @order_id,
    @seq,
    @qty,
    @price,
    @filled_at,
    NOW()
)
ON CONFLICT (order_id, seq) DO UPDATE SET
    qty = EXCLUDED.qty,
    price = EXCLUDED.price,
    filled_at = EXCLUDED.filled_at;
`

	orderSelectBase = `
SELECT
    o.id::text,
    o.run_id::text,
    o.symbol,
    o.strategy,
    o.side,
    o.qty,
    o.notional::text,
    o.price_hint::text,
    o.status,
    o.broker_order_id,
    o.placed_at,
    o.params
FROM orders o
`

	defaultOrderLimit = 50
	maxOrderLimit     = 500
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type orderTx struct {
	tx    pgx.Tx
	store *OrderStore
}

func (t *orderTx) CreateOrder(ctx context.Context, order orderstore.Order) error {
	return t.store.createOrderWith(ctx, t.tx, order)
}

func (t *orderTx) RecordFill(ctx context.Context, fill orderstore.Fill) error {
	return t.store.recordFillWith(ctx, t.tx, fill)
}

func (s *OrderStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("order store: nil pool")
	}
	return s.pool, nil
}

func (s *OrderStore) createOrderWith(ctx context.Context, exec execer, order orderstore.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("order store: order id required")
	}
	params, err := encodeParams(order.Params)
	if err != nil {
		return fmt.Errorf("order store: encode params: %w", err)
	}
	priceHint, err := numericFromOptional(order.PriceHint)
	if err != nil {
		return fmt.Errorf("order store: price hint: %w", err)
	}
	notional, err := numericFromString(order.Notional)
	if err != nil {
		return fmt.Errorf("order store: notional: %w", err)
	}
	args := pgx.NamedArgs{
		"id":              order.ID,
		"run_id":          strings.TrimSpace(order.RunID),
		"symbol":          strings.ToUpper(strings.TrimSpace(order.Symbol)),
		"strategy":        strings.TrimSpace(order.Strategy),
		"side":            strings.TrimSpace(order.Side),
		"qty":             order.Qty,
		"notional":        notional,
		"price_hint":      priceHint,
		"status":          strings.TrimSpace(order.Status),
		"broker_order_id": nullableText(order.BrokerOrderID),
		"placed_at":       order.PlacedAt.UTC(),
		"params":          params,
	}
	if _, err := exec.Exec(ctx, orderInsertSQL, args); err != nil {
		return fmt.Errorf("order store: insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) recordFillWith(ctx context.Context, exec execer, fill orderstore.Fill) error {
	qty, err := numericFromString(fill.Qty)
	if err != nil {
		return fmt.Errorf("order store: fill qty: %w", err)
	}
	price, err := numericFromString(fill.Price)
	if err != nil {
		return fmt.Errorf("order store: fill price: %w", err)
	}
	args := pgx.NamedArgs{
		"order_id":  strings.TrimSpace(fill.OrderID),
		"seq":       fill.Seq,
		"qty":       qty,
		"price":     price,
		"filled_at": fill.FilledAt.UTC(),
	}
	if _, err := exec.Exec(ctx, fillInsertSQL, args); err != nil {
		return fmt.Errorf("order store: insert fill: %w", err)
	}
	return nil
}

// CreateOrder inserts a new order snapshot outside a transaction.
func (s *OrderStore) CreateOrder(ctx context.Context, order orderstore.Order) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	return s.createOrderWith(ctx, pool, order)
}

// RecordFill upserts one fill row outside a transaction.
func (s *OrderStore) RecordFill(ctx context.Context, fill orderstore.Fill) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	return s.recordFillWith(ctx, pool, fill)
}

// WithTransaction executes the supplied callback within a database transaction.
func (s *OrderStore) WithTransaction(ctx context.Context, fn func(context.Context, orderstore.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("order store: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	txOptions := pgx.TxOptions{
		IsoLevel:       pgx.ReadCommitted,
		AccessMode:     pgx.ReadWrite,
		DeferrableMode: pgx.NotDeferrable,
	}
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("order store: begin tx: %w", err)
	}
	wrapped := &orderTx{tx: tx, store: s}
	runErr := fn(ctx, wrapped)
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("order store: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("order store: commit tx: %w", err)
	}
	return nil
}

// ListOrders retrieves persisted orders matching the supplied query filters.
func (s *OrderStore) ListOrders(ctx context.Context, query orderstore.OrderQuery) ([]orderstore.Order, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit, defaultOrderLimit, maxOrderLimit)

	builder := strings.Builder{}
	builder.WriteString(orderSelectBase)
	builder.WriteString(" WHERE 1=1")

	args := make([]any, 0, 4)
	argPos := 1

	if trimmed := strings.TrimSpace(query.Symbol); trimmed != "" {
		fmt.Fprintf(&builder, " AND o.symbol = $%d", argPos)
		args = append(args, strings.ToUpper(trimmed))
		argPos++
	}
	if trimmed := strings.TrimSpace(query.Strategy); trimmed != "" {
		fmt.Fprintf(&builder, " AND o.strategy = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	statuses := normalizedStatuses(query.Statuses)
	if len(statuses) > 0 {
		fmt.Fprintf(&builder, " AND o.status = ANY($%d)", argPos)
		args = append(args, statuses)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY o.placed_at DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("order store: list orders: %w", err)
	}
	defer rows.Close()

	var records []orderstore.Order
	for rows.Next() {
		var (
			order       orderstore.Order
			priceHint   pgtype.Text
			brokerID    pgtype.Text
			placedAt    time.Time
			paramsBytes []byte
		)
		if err := rows.Scan(
			&order.ID,
			&order.RunID,
			&order.Symbol,
			&order.Strategy,
			&order.Side,
			&order.Qty,
			&order.Notional,
			&priceHint,
			&order.Status,
			&brokerID,
			&placedAt,
			&paramsBytes,
		); err != nil {
			return nil, fmt.Errorf("order store: scan order: %w", err)
		}
		if priceHint.Valid {
			value := priceHint.String
			order.PriceHint = &value
		}
		if brokerID.Valid {
			value := brokerID.String
			order.BrokerOrderID = &value
		}
		order.PlacedAt = placedAt.UTC()
		if len(paramsBytes) > 0 {
			if err := json.Unmarshal(paramsBytes, &order.Params); err != nil {
				return nil, fmt.Errorf("order store: decode params: %w", err)
			}
		}
		records = append(records, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order store: iterate orders: %w", err)
	}
	return records, nil
}

func encodeParams(params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}

func nullableText(value *string) any {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	return strings.TrimSpace(*value)
}

func normalizedStatuses(statuses []string) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			out = append(out, strings.ToLower(trimmed))
		}
	}
	return out
}

func clampLimit(requested, fallback, ceiling int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > ceiling {
		return ceiling
	}
	return requested
}
