// Package stream turns a raw vendor event feed into classified signal frames.
//
// A bounded FIFO decouples the vendor socket from the consumer: the producer
// never blocks, shedding the OLDEST queued event when the queue is full so the
// freshest market data always survives backpressure. The consumer runs every
// event through a per-symbol filter bank and regime classifier, detecting
// per-symbol gaps and splicing backfilled records in ahead of the live event.
package stream

import (
	"context"
	"io"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/filter"
	"github.com/zsh04/ai-trader-sub000/internal/regime"
)

const (
	defaultMaxQueue      = 1024
	defaultGapMultiplier = 3.0
	minFrameBuffer       = 64
)

// BackfillFunc fetches the bars missed during a detected gap. Implementations
// should return records in ascending order; the manager tolerates either.
type BackfillFunc func(ctx context.Context, req schema.FetchRequest) ([]schema.RawEvent, error)

// Config parameterises a Manager.
type Config struct {
	Vendor   string
	Interval schema.Interval
	// MaxQueue bounds the raw event FIFO; oldest events are shed on overflow.
	MaxQueue int
	// GapMultiplier scales the interval to form the gap threshold.
	GapMultiplier float64
	Filter        filter.Config
	RegimeWindow  int
	Thresholds    regime.Thresholds
	Backfill      BackfillFunc
	Logger        *log.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxQueue <= 0 {
		c.MaxQueue = defaultMaxQueue
	}
	if c.GapMultiplier <= 0 {
		c.GapMultiplier = defaultGapMultiplier
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	return c
}

type symbolState struct {
	bank     *filter.Bank
	frames   []schema.SignalFrame
	lastSeen time.Time
}

// Manager owns the queue, the per-symbol filter state, and the worker pair
// that moves events from the vendor feed to the frame channel.
type Manager struct {
	cfg        Config
	logger     *log.Logger
	classifier *regime.Classifier
	bufferCap  int
	gap        time.Duration

	queue  chan schema.RawEvent
	frames chan schema.ProbabilisticStreamFrame
	states map[string]*symbolState

	wg      conc.WaitGroup
	cancel  context.CancelFunc
	started atomic.Bool

	dropCounter metric.Int64Counter
}

// NewManager validates the configuration and prepares an idle manager.
// Call Run exactly once to start the workers.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	// Surface filter configuration problems up front rather than on the
	// first event of an arbitrary symbol.
	if _, err := filter.NewBank("PROBE", cfg.Vendor, cfg.Filter); err != nil {
		return nil, err
	}
	classifier := regime.NewClassifier(cfg.RegimeWindow, cfg.Thresholds)
	bufferCap := 3 * classifier.Window()
	if bufferCap < minFrameBuffer {
		bufferCap = minFrameBuffer
	}
	mgr := &Manager{
		cfg:        cfg,
		logger:     cfg.Logger,
		classifier: classifier,
		bufferCap:  bufferCap,
		gap:        time.Duration(cfg.GapMultiplier * float64(cfg.Interval.Duration())),
		queue:      make(chan schema.RawEvent, cfg.MaxQueue),
		frames:     make(chan schema.ProbabilisticStreamFrame),
		states:     make(map[string]*symbolState),
	}
	meter := otel.Meter("stream")
	mgr.dropCounter, _ = meter.Int64Counter("stream.events.dropped",
		metric.WithDescription("Raw events shed from the full streaming queue"),
		metric.WithUnit("{event}"))
	return mgr, nil
}

// Run starts the producer/consumer pair over the vendor feed and returns the
// frame channel. The channel closes when the feed ends or ctx is cancelled.
func (m *Manager) Run(ctx context.Context, source <-chan schema.RawEvent) <-chan schema.ProbabilisticStreamFrame {
	if !m.started.CompareAndSwap(false, true) {
		m.logger.Printf("stream: Run called twice, ignoring")
		return m.frames
	}
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Go(func() {
		defer close(m.queue)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-source:
				if !ok {
					return
				}
				m.enqueue(ctx, evt)
			}
		}
	})

	m.wg.Go(func() {
		defer close(m.frames)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-m.queue:
				if !ok {
					return
				}
				m.process(ctx, evt)
			}
		}
	})

	return m.frames
}

// Close cancels the workers and waits for both to exit.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// enqueue never blocks: a full queue sheds its oldest event to make room.
func (m *Manager) enqueue(ctx context.Context, evt schema.RawEvent) {
	for {
		select {
		case m.queue <- evt:
			return
		default:
		}
		select {
		case dropped := <-m.queue:
			if m.dropCounter != nil {
				m.dropCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("symbol", dropped.Symbol)))
			}
			m.logger.Printf("stream: queue full, dropped oldest event symbol=%s ts=%s",
				dropped.Symbol, dropped.Timestamp.Format(time.RFC3339))
		default:
		}
	}
}

func (m *Manager) process(ctx context.Context, evt schema.RawEvent) {
	state, ok := m.states[evt.Symbol]
	if !ok {
		bank, err := filter.NewBank(evt.Symbol, m.cfg.Vendor, m.cfg.Filter)
		if err != nil {
			m.logger.Printf("stream: filter bank for %s: %v", evt.Symbol, err)
			return
		}
		state = &symbolState{bank: bank, frames: make([]schema.SignalFrame, 0, m.bufferCap)}
		m.states[evt.Symbol] = state
	}

	if m.gapped(state, evt) {
		m.backfill(ctx, state, evt)
	}
	m.emit(ctx, state, evt)
	// Watermark advances to the live event even when the backfill came back
	// short, so a truncated vendor response never re-triggers the same gap.
	state.lastSeen = evt.Timestamp
}

func (m *Manager) gapped(state *symbolState, evt schema.RawEvent) bool {
	if state.lastSeen.IsZero() || m.cfg.Backfill == nil {
		return false
	}
	return evt.Timestamp.Sub(state.lastSeen) > m.gap
}

// backfill splices the missed window through the same filter state, emitting
// the recovered records ahead of the live event in ascending order.
func (m *Manager) backfill(ctx context.Context, state *symbolState, live schema.RawEvent) {
	start := state.lastSeen
	end := live.Timestamp
	req := schema.FetchRequest{
		Symbol:   live.Symbol,
		Start:    &start,
		End:      &end,
		Interval: m.cfg.Interval,
	}.Normalize()

	records, err := m.cfg.Backfill(ctx, req)
	if err != nil {
		m.logger.Printf("stream: backfill %s [%s, %s): %v",
			live.Symbol, start.Format(time.RFC3339), end.Format(time.RFC3339), err)
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	var prev time.Time
	for _, rec := range records {
		if !rec.Timestamp.After(state.lastSeen) || !rec.Timestamp.Before(live.Timestamp) {
			continue
		}
		if rec.Timestamp.Equal(prev) {
			continue
		}
		prev = rec.Timestamp
		m.emit(ctx, state, rec)
	}
	m.logger.Printf("stream: backfilled %d record(s) for %s", len(records), live.Symbol)
}

func (m *Manager) emit(ctx context.Context, state *symbolState, evt schema.RawEvent) {
	bar := schema.Bar{
		Symbol:    evt.Symbol,
		Timestamp: evt.Timestamp,
		Open:      evt.Price,
		High:      evt.Price,
		Low:       evt.Price,
		Close:     evt.Price,
		Volume:    evt.Volume,
	}
	frame := state.bank.Step(bar)
	state.frames = append(state.frames, frame)
	if len(state.frames) > m.bufferCap {
		state.frames = state.frames[len(state.frames)-m.bufferCap:]
	}
	out := schema.ProbabilisticStreamFrame{
		Signal: frame,
		Regime: m.classifier.ClassifyLatest(state.frames),
	}
	select {
	case <-ctx.Done():
	case m.frames <- out:
	}
}
