package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func TestPublishDeliversToTopicSubscribers(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 4})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background(), schema.TopicBarsSnapshot)
	require.NoError(t, err)
	defer bus.Unsubscribe(id)

	evt, err := schema.NewEvent(schema.TopicBarsSnapshot, "AAPL", schema.BarsSnapshotPayload{Symbol: "AAPL", Count: 3})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))

	select {
	case got := <-ch:
		require.Equal(t, schema.TopicBarsSnapshot, got.Topic)
		require.Equal(t, "AAPL", got.Symbol)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	defer bus.Close()

	evt, err := schema.NewEvent(schema.TopicSignalsSnapshot, "MSFT", nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))
}

func TestOverflowDropsOldest(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 2})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background(), schema.TopicExecOrders)
	require.NoError(t, err)
	defer bus.Unsubscribe(id)

	for i := 0; i < 5; i++ {
		evt, err := schema.NewEvent(schema.TopicExecOrders, "SPY", map[string]int{"seq": i})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), evt))
	}

	// The newest two events survive; everything older was shed.
	var seqs []string
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			seqs = append(seqs, string(got.Payload))
		case <-time.After(time.Second):
			t.Fatal("expected buffered event")
		}
	}
	require.Contains(t, seqs[len(seqs)-1], "4")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	defer bus.Close()

	id, ch, err := bus.Subscribe(context.Background(), schema.TopicBacktestJob)
	require.NoError(t, err)
	bus.Unsubscribe(id)

	_, open := <-ch
	require.False(t, open)
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	bus.Close()

	evt, err := schema.NewEvent(schema.TopicRegimesSnapshot, "", nil)
	require.NoError(t, err)
	require.Error(t, bus.Publish(context.Background(), evt))
}
