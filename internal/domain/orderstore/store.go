// Package orderstore defines persistence contracts for order lifecycle state,
// consumer checkpoints, and market-data metadata.
package orderstore

import (
	"context"
	"time"
)

// Order is the persisted snapshot of a routed order intent. Money fields are
// decimal strings so the database keeps exact numerics.
type Order struct {
	ID            string         `json:"id"`
	RunID         string         `json:"runId"`
	Symbol        string         `json:"symbol"`
	Strategy      string         `json:"strategy"`
	Side          string         `json:"side"`
	Qty           int64          `json:"qty"`
	Notional      string         `json:"notional"`
	PriceHint     *string        `json:"priceHint,omitempty"`
	Status        string         `json:"status"`
	BrokerOrderID *string        `json:"brokerOrderId,omitempty"`
	PlacedAt      time.Time      `json:"placedAt"`
	Params        map[string]any `json:"params,omitempty"`
}

// Fill is one execution row attached to a persisted order.
type Fill struct {
	OrderID  string    `json:"orderId"`
	Seq      int       `json:"seq"`
	Qty      string    `json:"qty"`
	Price    string    `json:"price"`
	FilledAt time.Time `json:"filledAt"`
}

// Checkpoint records the last event a consumer group acknowledged on a topic.
type Checkpoint struct {
	Group       string    `json:"group"`
	Topic       string    `json:"topic"`
	LastEventID string    `json:"lastEventId"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Run records one router or backtest invocation.
type Run struct {
	RunID      string         `json:"runId"`
	Kind       string         `json:"kind"`
	Symbol     string         `json:"symbol"`
	Strategy   string         `json:"strategy"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SymbolRecord is the upserted identity row for a traded instrument.
type SymbolRecord struct {
	Symbol    string    `json:"symbol"`
	Vendor    string    `json:"vendor"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// PriceSnapshot is one bar-level metadata row kept alongside the columnar
// artifacts for queryability.
type PriceSnapshot struct {
	Symbol    string    `json:"symbol"`
	Vendor    string    `json:"vendor"`
	Interval  string    `json:"interval"`
	Timestamp time.Time `json:"timestamp"`
	Close     string    `json:"close"`
	Volume    float64   `json:"volume"`
}

// OrderQuery scopes order lookups.
type OrderQuery struct {
	Symbol   string   `json:"symbol,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Tx encapsulates order persistence operations executed within a single transaction.
type Tx interface {
	CreateOrder(ctx context.Context, order Order) error
	RecordFill(ctx context.Context, fill Fill) error
}

// Store defines the contract for order persistence operations.
type Store interface {
	Tx
	WithTransaction(ctx context.Context, fn func(context.Context, Tx) error) error
	ListOrders(ctx context.Context, query OrderQuery) ([]Order, error)
}

// CheckpointStore persists consumer-group positions.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, group, topic string) (*Checkpoint, error)
}

// RunStore records run lifecycle rows.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID, status string, finishedAt time.Time) error
}

// MetadataStore persists symbol identities and price snapshots. The write is
// a single transaction; on error the rows roll back together and the caller
// treats the failure as non-fatal.
type MetadataStore interface {
	PersistSnapshots(ctx context.Context, rec SymbolRecord, rows []PriceSnapshot) error
}
