package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Instruments bundles the metric handles shared across the trading core.
// Constructor errors are ignored deliberately: a misconfigured meter yields
// nil instruments and callers guard every recording with a nil check.
type Instruments struct {
	FetchCounter     metric.Int64Counter
	FetchDuration    metric.Float64Histogram
	StreamDrops      metric.Int64Counter
	BackfillCounter  metric.Int64Counter
	BusPublished     metric.Int64Counter
	RouterLatency    metric.Float64Histogram
	RouterHalts      metric.Int64Counter
	SweepJobDuration metric.Float64Histogram
}

// NewInstruments registers the core instrument set on the named meter.
func NewInstruments(meterName string) *Instruments {
	meter := otel.Meter(meterName)
	inst := new(Instruments)
	inst.FetchCounter, _ = meter.Int64Counter("marketdata.fetch.requests",
		metric.WithDescription("Number of vendor bar fetches"),
		metric.WithUnit("{request}"))
	inst.FetchDuration, _ = meter.Float64Histogram("marketdata.fetch.duration",
		metric.WithDescription("Latency of vendor bar fetches"),
		metric.WithUnit("ms"))
	inst.StreamDrops, _ = meter.Int64Counter("marketdata.stream.drops",
		metric.WithDescription("Events dropped from the bounded stream queue under overflow"),
		metric.WithUnit("{event}"))
	inst.BackfillCounter, _ = meter.Int64Counter("marketdata.stream.backfills",
		metric.WithDescription("Gap backfills triggered by the streaming manager"),
		metric.WithUnit("{backfill}"))
	inst.BusPublished, _ = meter.Int64Counter("bus.events.published",
		metric.WithDescription("Events published to the in-process bus"),
		metric.WithUnit("{event}"))
	inst.RouterLatency, _ = meter.Float64Histogram("router.run.duration",
		metric.WithDescription("End-to-end latency of one router run"),
		metric.WithUnit("ms"))
	inst.RouterHalts, _ = meter.Int64Counter("router.run.halts",
		metric.WithDescription("Router runs terminated by the halt flag"),
		metric.WithUnit("{run}"))
	inst.SweepJobDuration, _ = meter.Float64Histogram("sweep.job.duration",
		metric.WithDescription("Wall-clock duration of one sweep job"),
		metric.WithUnit("ms"))
	return inst
}
