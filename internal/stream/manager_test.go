package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func event(symbol string, ts time.Time, price float64) schema.RawEvent {
	return schema.RawEvent{Symbol: symbol, Timestamp: ts, Price: price, Volume: 100}
}

func collect(t *testing.T, frames <-chan schema.ProbabilisticStreamFrame, n int) []schema.ProbabilisticStreamFrame {
	t.Helper()
	out := make([]schema.ProbabilisticStreamFrame, 0, n)
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case frame, ok := <-frames:
			require.True(t, ok, "frame channel closed after %d of %d frames", len(out), n)
			out = append(out, frame)
		case <-deadline:
			t.Fatalf("timed out after %d of %d frames", len(out), n)
		}
	}
	return out
}

func TestManagerEmitsFramesInOrder(t *testing.T) {
	mgr, err := NewManager(Config{Interval: schema.Interval1Min})
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	source := make(chan schema.RawEvent, 4)
	for i := 0; i < 4; i++ {
		source <- event("AAPL", base.Add(time.Duration(i)*time.Minute), 100+float64(i))
	}
	close(source)

	frames := mgr.Run(context.Background(), source)
	got := collect(t, frames, 4)
	mgr.Close()

	for i, frame := range got {
		require.Equal(t, "AAPL", frame.Signal.Symbol)
		require.Equal(t, base.Add(time.Duration(i)*time.Minute), frame.Signal.Timestamp)
	}
	_, open := <-frames
	require.False(t, open, "frame channel should close after the source ends")
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	mgr, err := NewManager(Config{Interval: schema.Interval1Min, MaxQueue: 2})
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		mgr.enqueue(context.Background(), event("MSFT", base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	require.Len(t, mgr.queue, 2)
	first := <-mgr.queue
	second := <-mgr.queue
	require.Equal(t, base.Add(3*time.Minute), first.Timestamp, "freshest events survive overflow")
	require.Equal(t, base.Add(4*time.Minute), second.Timestamp)
}

func TestGapTriggersBackfillBeforeLiveEvent(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	gapEnd := base.Add(10 * time.Minute)

	var captured schema.FetchRequest
	backfill := func(_ context.Context, req schema.FetchRequest) ([]schema.RawEvent, error) {
		captured = req
		// Deliberately unordered with a duplicate and one record outside
		// the window; the manager must sort, dedupe, and trim.
		return []schema.RawEvent{
			event("NVDA", base.Add(6*time.Minute), 103),
			event("NVDA", base.Add(2*time.Minute), 101),
			event("NVDA", base.Add(2*time.Minute), 101),
			event("NVDA", gapEnd, 999),
			event("NVDA", base.Add(4*time.Minute), 102),
		}, nil
	}

	mgr, err := NewManager(Config{Interval: schema.Interval1Min, Backfill: backfill})
	require.NoError(t, err)

	source := make(chan schema.RawEvent, 2)
	source <- event("NVDA", base, 100)
	source <- event("NVDA", gapEnd, 110)
	close(source)

	frames := mgr.Run(context.Background(), source)
	got := collect(t, frames, 5)
	mgr.Close()

	require.Equal(t, "NVDA", captured.Symbol)
	require.NotNil(t, captured.Start)
	require.NotNil(t, captured.End)
	require.Equal(t, base, *captured.Start)
	require.Equal(t, gapEnd, *captured.End)

	want := []time.Time{
		base,
		base.Add(2 * time.Minute),
		base.Add(4 * time.Minute),
		base.Add(6 * time.Minute),
		gapEnd,
	}
	for i, frame := range got {
		require.Equal(t, want[i], frame.Signal.Timestamp, "frame %d out of order", i)
	}
	require.InDelta(t, 110, got[4].Signal.Price, 1e-9, "live event emitted last")
}

func TestNoBackfillWithinGapThreshold(t *testing.T) {
	called := false
	backfill := func(context.Context, schema.FetchRequest) ([]schema.RawEvent, error) {
		called = true
		return nil, nil
	}
	mgr, err := NewManager(Config{Interval: schema.Interval1Min, Backfill: backfill})
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	source := make(chan schema.RawEvent, 2)
	source <- event("AMD", base, 100)
	source <- event("AMD", base.Add(3*time.Minute), 101) // exactly 3x is not a gap
	close(source)

	frames := mgr.Run(context.Background(), source)
	collect(t, frames, 2)
	mgr.Close()

	require.False(t, called, "backfill must not run within the gap threshold")
}
