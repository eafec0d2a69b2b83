package schema

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/zsh04/ai-trader-sub000/errs"
)

// Topic identifies a logical event stream on the in-process bus.
type Topic string

const (
	// TopicBarsSnapshot announces a completed historical bar fetch.
	TopicBarsSnapshot Topic = "bars.snapshot"
	// TopicSignalsSnapshot announces a completed filter-bank pass.
	TopicSignalsSnapshot Topic = "signals.snapshot"
	// TopicRegimesSnapshot announces a completed regime classification pass.
	TopicRegimesSnapshot Topic = "regimes.snapshot"
	// TopicExecOrders carries order intents emitted by the router.
	TopicExecOrders Topic = "exec.orders"
	// TopicBacktestJob carries per-job sweep progress notifications.
	TopicBacktestJob Topic = "backtest.job"
)

// Event is the envelope delivered to bus subscribers.
type Event struct {
	EventID   uuid.UUID       `json:"event_id"`
	Topic     Topic           `json:"topic"`
	Symbol    string          `json:"symbol,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an envelope around the JSON encoding of payload.
func NewEvent(topic Topic, symbol string, payload any) (Event, error) {
	if topic == "" {
		return Event{}, errs.New("", errs.CodeInvalid, errs.WithMessage("event topic required"))
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Event{}, errs.New("", errs.CodeInvalid, errs.WithMessage("encode event payload"), errs.WithCause(err))
		}
		raw = encoded
	}
	return Event{
		EventID:   uuid.New(),
		Topic:     topic,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// BarsSnapshotPayload is published on bars.snapshot after every fetch.
type BarsSnapshotPayload struct {
	Symbol   string    `json:"symbol"`
	Vendor   string    `json:"vendor"`
	Interval Interval  `json:"interval"`
	Count    int       `json:"count"`
	FirstTS  time.Time `json:"first_ts,omitempty"`
	LastTS   time.Time `json:"last_ts,omitempty"`
}

// SeriesSnapshotPayload is published on signals.snapshot and regimes.snapshot; counts only.
type SeriesSnapshotPayload struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
}

// BacktestJobPayload is published per sweep job, best-effort.
type BacktestJobPayload struct {
	JobID    string         `json:"job_id"`
	Strategy string         `json:"strategy"`
	Symbol   string         `json:"symbol"`
	Params   map[string]any `json:"params,omitempty"`
	Status   SweepJobStatus `json:"status"`
}
