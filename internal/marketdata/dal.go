// Package marketdata is the data access layer tying vendors, filters, regime
// classification, and artifact persistence into one fetch/stream facade.
package marketdata

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/filter"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/columnar"
	"github.com/zsh04/ai-trader-sub000/internal/infra/telemetry"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
	"github.com/zsh04/ai-trader-sub000/internal/regime"
	"github.com/zsh04/ai-trader-sub000/internal/stream"
)

// Cache path keys in ProbabilisticBatch.CachePaths.
const (
	CacheKindBars    = "bars"
	CacheKindSignals = "signals"
	CacheKindRegimes = "regimes"
)

// Options wires the DAL's collaborators. Registry and Cache are required;
// Bus and Metadata are optional and best-effort.
type Options struct {
	Registry      *vendors.Registry
	Bus           eventbus.Bus
	Cache         *columnar.Store
	Metadata      orderstore.MetadataStore
	Filter        filter.Config
	RegimeWindow  int
	Thresholds    regime.Thresholds
	MaxQueue      int
	GapMultiplier float64
	Logger        *log.Logger
}

// DAL fetches historical bars and opens live streams, producing classified
// probabilistic batches and frames.
type DAL struct {
	registry      *vendors.Registry
	bus           eventbus.Bus
	cache         *columnar.Store
	metadata      orderstore.MetadataStore
	filterCfg     filter.Config
	classifier    *regime.Classifier
	regimeWindow  int
	thresholds    regime.Thresholds
	maxQueue      int
	gapMultiplier float64
	logger        *log.Logger
	instruments   *telemetry.Instruments
}

// New validates the wiring and returns a ready DAL.
func New(opts Options) (*DAL, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("marketdata: vendor registry required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("marketdata: columnar cache required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DAL{
		registry:      opts.Registry,
		bus:           opts.Bus,
		cache:         opts.Cache,
		metadata:      opts.Metadata,
		filterCfg:     opts.Filter,
		classifier:    regime.NewClassifier(opts.RegimeWindow, opts.Thresholds),
		regimeWindow:  opts.RegimeWindow,
		thresholds:    opts.Thresholds,
		maxQueue:      opts.MaxQueue,
		gapMultiplier: opts.GapMultiplier,
		logger:        logger,
		instruments:   telemetry.NewInstruments("marketdata"),
	}, nil
}

// FetchBars runs the full historical pipeline: vendor fetch, filter bank,
// regime classification, columnar persistence, optional relational metadata,
// and snapshot telemetry events.
func (d *DAL) FetchBars(ctx context.Context, vendor string, req schema.FetchRequest) (*schema.ProbabilisticBatch, error) {
	req = req.Normalize()
	client, err := d.registry.Resolve(vendor, req.Interval)
	if err != nil {
		return nil, err
	}

	begin := time.Now()
	bars, err := client.FetchBars(ctx, req)
	d.recordFetch(ctx, client.Name(), req, time.Since(begin), err)
	if err != nil {
		return nil, err
	}

	d.publish(ctx, schema.TopicBarsSnapshot, req.Symbol, barsPayload(bars, req.Interval))

	bank, err := filter.NewBank(req.Symbol, client.Name(), d.filterCfg)
	if err != nil {
		return nil, err
	}
	signals := bank.Run(bars)
	regimes := d.classifier.Classify(signals)

	batch := &schema.ProbabilisticBatch{
		Bars:       bars,
		Signals:    signals,
		Regimes:    regimes,
		CachePaths: make(map[string]string, 3),
	}

	// Columnar artifact failures propagate; the artifacts are the product.
	barsPath, err := d.cache.WriteBars(bars)
	if err != nil {
		return nil, err
	}
	signalsPath, err := d.cache.WriteSignals(req.Symbol, client.Name(), signals)
	if err != nil {
		return nil, err
	}
	regimesPath, err := d.cache.WriteRegimes(req.Symbol, regimes)
	if err != nil {
		return nil, err
	}
	batch.CachePaths[CacheKindBars] = barsPath
	batch.CachePaths[CacheKindSignals] = signalsPath
	batch.CachePaths[CacheKindRegimes] = regimesPath

	d.persistMetadata(ctx, client.Name(), req.Interval, bars)

	d.publish(ctx, schema.TopicSignalsSnapshot, req.Symbol, schema.SeriesSnapshotPayload{Symbol: req.Symbol, Count: len(signals)})
	d.publish(ctx, schema.TopicRegimesSnapshot, req.Symbol, schema.SeriesSnapshotPayload{Symbol: req.Symbol, Count: len(regimes)})

	return batch, nil
}

// StreamBars opens a live stream through the streaming manager. The returned
// stop function cancels the producer and waits for the workers.
func (d *DAL) StreamBars(ctx context.Context, vendor string, symbols []string, interval schema.Interval) (<-chan schema.ProbabilisticStreamFrame, func(), error) {
	client, err := d.registry.Resolve(vendor, interval)
	if err != nil {
		return nil, nil, err
	}
	streamer, ok := client.(vendors.StreamingClient)
	if !ok || !client.SupportsStreaming() {
		return nil, nil, errs.NotSupported(fmt.Sprintf("vendor %s does not support streaming", client.Name()))
	}
	events, err := streamer.StreamBars(ctx, symbols, interval)
	if err != nil {
		return nil, nil, err
	}
	manager, err := stream.NewManager(stream.Config{
		Vendor:        client.Name(),
		Interval:      interval,
		MaxQueue:      d.maxQueue,
		GapMultiplier: d.gapMultiplier,
		Filter:        d.filterCfg,
		RegimeWindow:  d.regimeWindow,
		Thresholds:    d.thresholds,
		Backfill:      d.backfillFunc(client),
		Logger:        d.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	frames := manager.Run(ctx, events)
	return frames, manager.Close, nil
}

// backfillFunc adapts a historical fetch into the streaming manager's gap
// recovery callback, collapsing bars to close-price events.
func (d *DAL) backfillFunc(client vendors.Client) stream.BackfillFunc {
	return func(ctx context.Context, req schema.FetchRequest) ([]schema.RawEvent, error) {
		bars, err := client.FetchBars(ctx, req)
		if err != nil {
			return nil, err
		}
		if d.instruments != nil && d.instruments.BackfillCounter != nil {
			d.instruments.BackfillCounter.Add(ctx, 1, metric.WithAttributes(
				telemetry.FetchAttributes(telemetry.Environment(), client.Name(), req.Symbol, string(req.Interval), "ok")...))
		}
		events := make([]schema.RawEvent, 0, len(bars.Data))
		for _, bar := range bars.Data {
			events = append(events, schema.RawEvent{
				Symbol:    bar.Symbol,
				Timestamp: bar.Timestamp,
				Price:     bar.Close,
				Volume:    bar.Volume,
			})
		}
		return events, nil
	}
}

func (d *DAL) persistMetadata(ctx context.Context, vendor string, interval schema.Interval, bars *schema.Bars) {
	if d.metadata == nil || len(bars.Data) == 0 {
		return
	}
	first := bars.Data[0].Timestamp
	last := bars.Data[len(bars.Data)-1].Timestamp
	rows := make([]orderstore.PriceSnapshot, 0, len(bars.Data))
	for _, bar := range bars.Data {
		rows = append(rows, orderstore.PriceSnapshot{
			Symbol:    bar.Symbol,
			Vendor:    vendor,
			Interval:  string(interval),
			Timestamp: bar.Timestamp,
			Close:     formatPrice(bar.Close),
			Volume:    bar.Volume,
		})
	}
	record := orderstore.SymbolRecord{Symbol: bars.Symbol, Vendor: vendor, FirstSeen: first, LastSeen: last}
	if err := d.metadata.PersistSnapshots(ctx, record, rows); err != nil {
		d.logger.Printf("dal: metadata persist for %s failed, continuing: %v", bars.Symbol, err)
	}
}

func (d *DAL) publish(ctx context.Context, topic schema.Topic, symbol string, payload any) {
	if d.bus == nil {
		return
	}
	evt, err := schema.NewEvent(topic, symbol, payload)
	if err != nil {
		d.logger.Printf("dal: build %s event: %v", topic, err)
		return
	}
	if err := d.bus.Publish(ctx, evt); err != nil {
		d.logger.Printf("dal: publish %s: %v", topic, err)
	}
}

func (d *DAL) recordFetch(ctx context.Context, vendor string, req schema.FetchRequest, elapsed time.Duration, err error) {
	if d.instruments == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := telemetry.FetchAttributes(telemetry.Environment(), vendor, req.Symbol, string(req.Interval), result)
	if d.instruments.FetchCounter != nil {
		d.instruments.FetchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if d.instruments.FetchDuration != nil {
		d.instruments.FetchDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	}
}

func barsPayload(bars *schema.Bars, interval schema.Interval) schema.BarsSnapshotPayload {
	payload := schema.BarsSnapshotPayload{
		Symbol:   bars.Symbol,
		Vendor:   bars.Vendor,
		Interval: interval,
		Count:    len(bars.Data),
	}
	if len(bars.Data) > 0 {
		payload.FirstTS = bars.Data[0].Timestamp
		payload.LastTS = bars.Data[len(bars.Data)-1].Timestamp
	}
	return payload
}

func formatPrice(v float64) string {
	return fmt.Sprintf("%.8f", v)
}
