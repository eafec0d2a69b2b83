// Package consumer hosts the long-running bus subscribers: the order-intent
// consumer persisting routed intents, and the sweep-job consumer dispatching
// grid jobs to a remote worker pool.
package consumer

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
)

const defaultOrderGroup = "exec-orders"

// OrderConsumerOptions wires an OrderConsumer.
type OrderConsumerOptions struct {
	Group       string
	Bus         eventbus.Bus
	Orders      orderstore.Store
	Checkpoints orderstore.CheckpointStore
	Logger      *log.Logger
	Clock       func() time.Time
}

// OrderConsumer subscribes to exec.orders and persists each intent as an
// order row plus its fills, in one transaction, before checkpointing.
type OrderConsumer struct {
	group       string
	bus         eventbus.Bus
	orders      orderstore.Store
	checkpoints orderstore.CheckpointStore
	logger      *log.Logger
	now         func() time.Time

	started atomic.Bool
	cancel  context.CancelFunc
	subID   eventbus.SubscriptionID
	wg      conc.WaitGroup
}

// NewOrderConsumer validates the wiring.
func NewOrderConsumer(opts OrderConsumerOptions) (*OrderConsumer, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("consumer: bus required")
	}
	if opts.Orders == nil {
		return nil, fmt.Errorf("consumer: order store required")
	}
	if opts.Checkpoints == nil {
		return nil, fmt.Errorf("consumer: checkpoint store required")
	}
	group := opts.Group
	if group == "" {
		group = defaultOrderGroup
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &OrderConsumer{
		group:       group,
		bus:         opts.Bus,
		orders:      opts.Orders,
		checkpoints: opts.Checkpoints,
		logger:      logger,
		now:         now,
	}, nil
}

// Start subscribes and begins draining events until Close or context cancel.
func (c *OrderConsumer) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("consumer: already started")
	}
	subID, events, err := c.bus.Subscribe(ctx, schema.TopicExecOrders)
	if err != nil {
		c.started.Store(false)
		return err
	}
	c.subID = subID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Go(func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				c.handle(runCtx, evt)
			}
		}
	})
	return nil
}

// Close stops the drain loop and waits for the in-flight event.
func (c *OrderConsumer) Close() {
	if !c.started.Load() {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Unsubscribe(c.subID)
	c.wg.Wait()
}

func (c *OrderConsumer) handle(ctx context.Context, evt schema.Event) {
	var intent schema.OrderIntent
	if err := json.Unmarshal(evt.Payload, &intent); err != nil {
		c.logger.Printf("order consumer %s: skip event %s: %v", c.group, evt.EventID, err)
		return
	}

	order := orderFromIntent(evt, intent)
	fills := fillsFromIntent(order.ID, intent.Fills)

	err := c.orders.WithTransaction(ctx, func(txCtx context.Context, tx orderstore.Tx) error {
		if err := tx.CreateOrder(txCtx, order); err != nil {
			return err
		}
		for _, fill := range fills {
			if err := tx.RecordFill(txCtx, fill); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Printf("order consumer %s: persist order %s: %v", c.group, order.ID, err)
		return
	}

	if err := c.checkpoints.Save(ctx, orderstore.Checkpoint{
		Group:       c.group,
		Topic:       string(schema.TopicExecOrders),
		LastEventID: evt.EventID.String(),
		UpdatedAt:   c.now().UTC(),
	}); err != nil {
		c.logger.Printf("order consumer %s: checkpoint event %s: %v", c.group, evt.EventID, err)
	}

	lag := c.now().Sub(evt.Timestamp)
	c.logger.Printf("order consumer %s: persisted order %s symbol=%s fills=%d lag=%s",
		c.group, order.ID, order.Symbol, len(fills), lag)
}

// orderFromIntent maps an intent event to an order row. The event ID keys the
// row so redelivery stays idempotent; executed is recorded only when a broker
// identifier is present.
func orderFromIntent(evt schema.Event, intent schema.OrderIntent) orderstore.Order {
	order := orderstore.Order{
		ID:       evt.EventID.String(),
		RunID:    intent.RunID,
		Symbol:   intent.Symbol,
		Strategy: intent.Strategy,
		Side:     string(intent.Side),
		Qty:      intent.Qty,
		Notional: intent.Notional.String(),
		Status:   "pending",
		PlacedAt: intent.Timestamp,
		Params:   intent.Params,
	}
	if order.Qty < 0 {
		order.Qty = 0
	}
	if order.PlacedAt.IsZero() {
		order.PlacedAt = evt.Timestamp
	}
	if !intent.PriceHint.IsZero() {
		hint := intent.PriceHint.String()
		order.PriceHint = &hint
	}
	if intent.BrokerOrderID != "" {
		brokerID := intent.BrokerOrderID
		order.BrokerOrderID = &brokerID
		order.Status = "executed"
	}
	return order
}

// fillsFromIntent converts the intent's fill reports, dropping rows with zero
// quantity or price.
func fillsFromIntent(orderID string, fills []schema.Fill) []orderstore.Fill {
	out := make([]orderstore.Fill, 0, len(fills))
	for _, fill := range fills {
		if fill.Qty.IsZero() || fill.Price.IsZero() {
			continue
		}
		out = append(out, orderstore.Fill{
			OrderID:  orderID,
			Seq:      len(out),
			Qty:      fill.Qty.String(),
			Price:    fill.Price.String(),
			FilledAt: fill.Timestamp,
		})
	}
	return out
}
