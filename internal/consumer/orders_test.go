package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
)

type memOrderStore struct {
	mu     sync.Mutex
	orders []orderstore.Order
	fills  []orderstore.Fill
	txErr  error
}

func (s *memOrderStore) CreateOrder(_ context.Context, order orderstore.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	return nil
}

func (s *memOrderStore) RecordFill(_ context.Context, fill orderstore.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, fill)
	return nil
}

func (s *memOrderStore) WithTransaction(ctx context.Context, fn func(context.Context, orderstore.Tx) error) error {
	if s.txErr != nil {
		return s.txErr
	}
	return fn(ctx, s)
}

func (s *memOrderStore) ListOrders(_ context.Context, _ orderstore.OrderQuery) ([]orderstore.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orderstore.Order(nil), s.orders...), nil
}

func (s *memOrderStore) snapshot() ([]orderstore.Order, []orderstore.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orderstore.Order(nil), s.orders...), append([]orderstore.Fill(nil), s.fills...)
}

type memCheckpoints struct {
	mu    sync.Mutex
	saved []orderstore.Checkpoint
}

func (c *memCheckpoints) Save(_ context.Context, cp orderstore.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, cp)
	return nil
}

func (c *memCheckpoints) Load(_ context.Context, group, topic string) (*orderstore.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.saved) - 1; i >= 0; i-- {
		if c.saved[i].Group == group && c.saved[i].Topic == topic {
			cp := c.saved[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (c *memCheckpoints) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.saved)
}

func startOrderConsumer(t *testing.T, store *memOrderStore, checkpoints *memCheckpoints) eventbus.Bus {
	t.Helper()
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	t.Cleanup(bus.Close)
	c, err := NewOrderConsumer(OrderConsumerOptions{
		Group:       "test-group",
		Bus:         bus,
		Orders:      store,
		Checkpoints: checkpoints,
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return bus
}

func publishIntent(t *testing.T, bus eventbus.Bus, intent schema.OrderIntent) schema.Event {
	t.Helper()
	evt, err := schema.NewEvent(schema.TopicExecOrders, intent.Symbol, intent)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))
	return evt
}

func TestOrderConsumerPersistsIntentAndFills(t *testing.T) {
	store := &memOrderStore{}
	checkpoints := &memCheckpoints{}
	bus := startOrderConsumer(t, store, checkpoints)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	evt := publishIntent(t, bus, schema.OrderIntent{
		RunID:         uuid.NewString(),
		Symbol:        "AAPL",
		Strategy:      "momentum",
		Side:          schema.TradeSideBuy,
		Qty:           5,
		Notional:      decimal.NewFromInt(500),
		PriceHint:     decimal.NewFromInt(100),
		Timestamp:     now,
		BrokerOrderID: "bkr-42",
		Fills: []schema.Fill{
			{Qty: decimal.NewFromInt(5), Price: decimal.NewFromInt(100), Timestamp: now},
			{Qty: decimal.Zero, Price: decimal.NewFromInt(100), Timestamp: now},
		},
	})

	require.Eventually(t, func() bool {
		orders, _ := store.snapshot()
		return len(orders) == 1
	}, time.Second, 10*time.Millisecond)

	orders, fills := store.snapshot()
	require.Equal(t, evt.EventID.String(), orders[0].ID)
	require.Equal(t, "executed", orders[0].Status)
	require.NotNil(t, orders[0].BrokerOrderID)
	require.Equal(t, "bkr-42", *orders[0].BrokerOrderID)
	require.Equal(t, now, orders[0].PlacedAt)

	// the zero-quantity fill is dropped
	require.Len(t, fills, 1)
	require.Equal(t, orders[0].ID, fills[0].OrderID)
	require.Equal(t, 0, fills[0].Seq)

	require.Eventually(t, func() bool { return checkpoints.count() == 1 }, time.Second, 10*time.Millisecond)
	cp, err := checkpoints.Load(context.Background(), "test-group", string(schema.TopicExecOrders))
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, evt.EventID.String(), cp.LastEventID)
}

func TestOrderConsumerRecordsPendingWithoutBrokerID(t *testing.T) {
	store := &memOrderStore{}
	checkpoints := &memCheckpoints{}
	bus := startOrderConsumer(t, store, checkpoints)

	publishIntent(t, bus, schema.OrderIntent{
		RunID:     uuid.NewString(),
		Symbol:    "MSFT",
		Strategy:  "breakout",
		Side:      schema.TradeSideBuy,
		Qty:       3,
		Notional:  decimal.NewFromInt(900),
		Timestamp: time.Now().UTC(),
	})

	require.Eventually(t, func() bool {
		orders, _ := store.snapshot()
		return len(orders) == 1
	}, time.Second, 10*time.Millisecond)

	orders, _ := store.snapshot()
	require.Equal(t, "pending", orders[0].Status)
	require.Nil(t, orders[0].BrokerOrderID)
}

func TestOrderConsumerSkipsMalformedPayload(t *testing.T) {
	store := &memOrderStore{}
	checkpoints := &memCheckpoints{}
	bus := startOrderConsumer(t, store, checkpoints)

	bad := schema.Event{
		EventID:   uuid.New(),
		Topic:     schema.TopicExecOrders,
		Symbol:    "AAPL",
		Timestamp: time.Now().UTC(),
		Payload:   json.RawMessage(`{"qty": "not-a-number"`),
	}
	require.NoError(t, bus.Publish(context.Background(), bad))

	publishIntent(t, bus, schema.OrderIntent{
		RunID:     uuid.NewString(),
		Symbol:    "AAPL",
		Strategy:  "momentum",
		Side:      schema.TradeSideBuy,
		Qty:       1,
		Notional:  decimal.NewFromInt(100),
		Timestamp: time.Now().UTC(),
	})

	require.Eventually(t, func() bool { return checkpoints.count() == 1 }, time.Second, 10*time.Millisecond)
	orders, _ := store.snapshot()
	require.Len(t, orders, 1)
}

func TestOrderConsumerSkipsCheckpointOnPersistFailure(t *testing.T) {
	store := &memOrderStore{txErr: errors.New("db down")}
	checkpoints := &memCheckpoints{}
	bus := startOrderConsumer(t, store, checkpoints)

	publishIntent(t, bus, schema.OrderIntent{
		RunID:     uuid.NewString(),
		Symbol:    "AAPL",
		Strategy:  "momentum",
		Side:      schema.TradeSideBuy,
		Qty:       1,
		Notional:  decimal.NewFromInt(100),
		Timestamp: time.Now().UTC(),
	})

	// give the drain loop time to process before asserting absence
	time.Sleep(100 * time.Millisecond)
	orders, _ := store.snapshot()
	require.Empty(t, orders)
	require.Zero(t, checkpoints.count())
}
