package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/telemetry"
)

// MemoryConfig sizes the in-memory bus.
type MemoryConfig struct {
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	return c
}

// MemoryBus is an in-memory implementation of Bus. Delivery to a subscriber
// whose buffer is full drops the OLDEST buffered event so consumers always
// observe the freshest data.
type MemoryBus struct {
	cfg MemoryConfig

	mu           sync.RWMutex
	subscribers  map[schema.Topic]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
	closed       atomic.Bool
	nextID       uint64

	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
}

type subscriber struct {
	ch   chan schema.Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewMemoryBus constructs a memory-backed topic bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	bus := new(MemoryBus)
	bus.cfg = cfg.normalize()
	bus.subscribers = make(map[schema.Topic]map[SubscriptionID]*subscriber)

	meter := otel.Meter("eventbus")
	bus.publishedCounter, _ = meter.Int64Counter("bus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	bus.droppedCounter, _ = meter.Int64Counter("bus.events.dropped",
		metric.WithDescription("Events dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))

	return bus
}

// Publish fans the event out to all subscribers of its topic.
// Route-first: the subscriber set is snapshotted before any delivery work.
func (b *MemoryBus) Publish(ctx context.Context, evt schema.Event) error {
	if evt.Topic == "" {
		return errs.New("eventbus", errs.CodeInvalid, errs.WithMessage("event topic required"))
	}
	if b.closed.Load() {
		return errs.New("eventbus", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}

	b.mu.RLock()
	subMap := b.subscribers[evt.Topic]
	subscribers := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		subscribers = append(subscribers, sub)
	}
	b.mu.RUnlock()

	if len(subscribers) == 0 {
		return nil
	}

	for _, sub := range subscribers {
		b.deliver(ctx, sub, evt)
	}

	if b.publishedCounter != nil {
		b.publishedCounter.Add(ctx, 1, metric.WithAttributes(
			telemetry.TopicAttributes(telemetry.Environment(), string(evt.Topic), evt.Symbol)...))
	}
	return nil
}

// deliver enqueues without ever blocking the publisher: a full buffer sheds
// its oldest entry first, then the fresh event is enqueued.
func (b *MemoryBus) deliver(ctx context.Context, sub *subscriber, evt schema.Event) {
	defer func() {
		// A concurrently closed subscriber channel is a benign race during
		// shutdown; the event is simply lost.
		_ = recover()
	}()
	for {
		select {
		case sub.ch <- evt:
			return
		default:
		}
		select {
		case <-sub.ch:
			if b.droppedCounter != nil {
				b.droppedCounter.Add(ctx, 1, metric.WithAttributes(
					telemetry.TopicAttributes(telemetry.Environment(), string(evt.Topic), evt.Symbol)...))
			}
		default:
		}
	}
}

// Subscribe registers for events on the topic and returns the delivery channel.
func (b *MemoryBus) Subscribe(_ context.Context, topic schema.Topic) (SubscriptionID, <-chan schema.Event, error) {
	if topic == "" {
		return "", nil, errs.New("eventbus", errs.CodeInvalid, errs.WithMessage("topic required"))
	}
	if b.closed.Load() {
		return "", nil, errs.New("eventbus", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}

	sub := &subscriber{ch: make(chan schema.Event, b.cfg.BufferSize)}
	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()

	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	for topic, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, topic)
			}
			b.mu.Unlock()
			sub.close()
			return
		}
	}
	b.mu.Unlock()
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.closed.Store(true)
		b.mu.Lock()
		for topic, subs := range b.subscribers {
			for id, sub := range subs {
				sub.close()
				delete(subs, id)
			}
			delete(b.subscribers, topic)
		}
		b.mu.Unlock()
	})
}
