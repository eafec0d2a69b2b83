// Package router runs the deterministic orchestration pipeline that turns a
// symbol request into a sized, risk-bounded order intent.
package router

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/zsh04/ai-trader-sub000/internal/domain/orderstore"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/bus/eventbus"
	"github.com/zsh04/ai-trader-sub000/internal/infra/config"
	"github.com/zsh04/ai-trader-sub000/internal/infra/persistence/columnar"
	"github.com/zsh04/ai-trader-sub000/internal/infra/telemetry"
	"github.com/zsh04/ai-trader-sub000/internal/risk"
	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

const priorsLookback = 60

// FetchFunc matches the DAL's FetchBars and keeps the router decoupled from
// its concrete type.
type FetchFunc func(ctx context.Context, vendor string, req schema.FetchRequest) (*schema.ProbabilisticBatch, error)

// BrokerExecutor places bracket orders for an intent and returns the broker's
// order identifier.
type BrokerExecutor interface {
	PlaceBracketOrder(ctx context.Context, intent schema.OrderIntent) (string, error)
}

// Request describes one router run.
type Request struct {
	Symbol   string
	Vendor   string
	Interval schema.Interval
	Start    *time.Time
	End      *time.Time
	Strategy string
	Params   map[string]any
}

// RunContext carries the operational flags a run executes under.
type RunContext struct {
	OfflineMode      bool
	KillSwitchActive bool
	KillSwitchReason string
	PublishOrders    bool
	ExecuteOrders    bool
}

// Priors are the statistics inferred from the tail of the ingested frame.
type Priors struct {
	WinProb   float64       `json:"win_prob"`
	VolHint   float64       `json:"vol_hint"`
	AvgReturn float64       `json:"avg_return"`
	Payoff    float64       `json:"payoff"`
	Regime    schema.Regime `json:"regime"`
}

// Sizing is the risk stage's output.
type Sizing struct {
	Kelly    float64         `json:"kelly"`
	Notional decimal.Decimal `json:"notional"`
}

// State is threaded through every stage; a stage mutates it in place. Once
// Halt is set the remaining stages never observe the state.
type State struct {
	RunID   string
	Request Request
	Context RunContext

	Events []string
	Errors []string

	Frame     *strategy.Frame
	FramePath string
	Priors    *Priors
	Strategy  string
	Sizing    *Sizing
	Intent    *schema.OrderIntent

	Halt           bool
	FallbackReason string
	LatencyMS      int64
}

func (s *State) event(format string, args ...any) {
	s.Events = append(s.Events, fmt.Sprintf(format, args...))
}

func (s *State) fail(err error) {
	s.Errors = append(s.Errors, err.Error())
}

type stage struct {
	name string
	fn   func(ctx context.Context, st *State)
}

// Options wires a Router. Fetch, Cache, FrameLog, Bus, Broker, and Runs are
// all optional; absent collaborators degrade the corresponding stage rather
// than fail it.
type Options struct {
	Config   config.RouterConfig
	Fetch    FetchFunc
	Cache    *columnar.Store
	FrameLog *columnar.Manifest
	Bus      eventbus.Bus
	Broker   BrokerExecutor
	Runs     orderstore.RunStore
	Clock    func() time.Time
	Logger   *log.Logger
}

// Router executes the linear stage pipeline.
type Router struct {
	cfg      config.RouterConfig
	fetch    FetchFunc
	cache    *columnar.Store
	frameLog *columnar.Manifest
	bus      eventbus.Bus
	broker   BrokerExecutor
	runs     orderstore.RunStore
	now      func() time.Time
	logger   *log.Logger

	instruments *telemetry.Instruments
	stages      []stage
}

// New builds a router from its options.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	r := &Router{
		cfg:         opts.Config,
		fetch:       opts.Fetch,
		cache:       opts.Cache,
		frameLog:    opts.FrameLog,
		bus:         opts.Bus,
		broker:      opts.Broker,
		runs:        opts.Runs,
		now:         now,
		logger:      logger,
		instruments: telemetry.NewInstruments("router"),
	}
	r.stages = []stage{
		{"ingest_frame", r.ingestFrame},
		{"infer_priors", r.inferPriors},
		{"pick_strategy", r.pickStrategy},
		{"risk_size", r.riskSize},
		{"enqueue_order", r.enqueueOrder},
	}
	return r
}

// Run executes one traversal of the pipeline. The returned state always
// carries the events and errors of the stages that ran; a halted run has a
// nil Intent.
func (r *Router) Run(ctx context.Context, req Request, rctx RunContext) *State {
	begin := r.now()
	st := &State{
		RunID:   uuid.NewString(),
		Request: req,
		Context: rctx,
	}
	st.Request.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if st.Request.Strategy == "" {
		st.Request.Strategy = "breakout"
	}
	r.recordRunStart(ctx, st, begin)

	for _, s := range r.stages {
		if st.Halt {
			break
		}
		s.fn(ctx, st)
	}

	elapsed := r.now().Sub(begin)
	st.LatencyMS = elapsed.Milliseconds()
	r.recordRunFinish(ctx, st)
	if r.instruments != nil {
		outcome := "ok"
		if st.Halt {
			outcome = "halt"
			if r.instruments.RouterHalts != nil {
				r.instruments.RouterHalts.Add(ctx, 1, metric.WithAttributes(
					telemetry.RouterAttributes(telemetry.Environment(), st.Request.Symbol, st.Strategy, st.FallbackReason)...))
			}
		}
		if r.instruments.RouterLatency != nil {
			r.instruments.RouterLatency.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(
				telemetry.RouterAttributes(telemetry.Environment(), st.Request.Symbol, st.Strategy, outcome)...))
		}
	}
	return st
}

// recordRunStart and recordRunFinish are best-effort; orchestration never
// blocks on run bookkeeping.
func (r *Router) recordRunStart(ctx context.Context, st *State, begin time.Time) {
	if r.runs == nil {
		return
	}
	err := r.runs.CreateRun(ctx, orderstore.Run{
		RunID:     st.RunID,
		Kind:      "router",
		Symbol:    st.Request.Symbol,
		Strategy:  st.Request.Strategy,
		Status:    "running",
		StartedAt: begin.UTC(),
	})
	if err != nil {
		r.logger.Printf("router: record run start: %v", err)
	}
}

func (r *Router) recordRunFinish(ctx context.Context, st *State) {
	if r.runs == nil {
		return
	}
	status := "completed"
	if st.Halt {
		status = "halted"
	}
	if err := r.runs.FinishRun(ctx, st.RunID, status, r.now().UTC()); err != nil {
		r.logger.Printf("router: record run finish: %v", err)
	}
}

// ingestFrame resolves the probabilistic frame: live fetch when online,
// deterministic synthetic frame otherwise or on fetch failure.
func (r *Router) ingestFrame(ctx context.Context, st *State) {
	source := "synthetic"
	if st.Context.OfflineMode || r.fetch == nil {
		st.Frame = syntheticFrame(st.Request.Symbol, frameLength(st.Request), r.now())
		st.event("ingest:synthetic")
	} else {
		req := schema.FetchRequest{
			Symbol:   st.Request.Symbol,
			Start:    st.Request.Start,
			End:      st.Request.End,
			Interval: st.Request.Interval,
		}
		batch, err := r.fetch(ctx, st.Request.Vendor, req)
		if err != nil || batch == nil || len(batch.Bars.Data) == 0 {
			if err != nil {
				st.fail(fmt.Errorf("ingest_frame: %w", err))
			}
			st.FallbackReason = "fetch_failed"
			st.Frame = syntheticFrame(st.Request.Symbol, frameLength(st.Request), r.now())
			st.event("ingest:synthetic")
		} else {
			source = "live"
			st.Frame = strategy.FromBatch(batch)
			st.event("ingest:live")
		}
	}

	if r.cache != nil {
		header, rows := strategy.FrameTable(st.Frame)
		vendor := st.Request.Vendor
		if vendor == "" || source == "synthetic" {
			vendor = "synthetic"
		}
		interval := string(st.Request.Interval)
		if interval == "" {
			interval = string(schema.Interval1Day)
		}
		name := fmt.Sprintf("%s_%s_%s_%s.parquet", st.Request.Symbol, st.Request.Strategy, vendor, interval)
		path, err := r.cache.WriteTable(name, header, rows)
		if err != nil {
			st.fail(fmt.Errorf("ingest_frame: cache frame: %w", err))
			return
		}
		st.FramePath = path
		if r.frameLog != nil {
			record := framePersisted{
				RunID:    st.RunID,
				Symbol:   st.Request.Symbol,
				Strategy: st.Request.Strategy,
				Vendor:   vendor,
				Interval: interval,
				Source:   source,
				Path:     path,
				Rows:     st.Frame.Len(),
				TS:       r.now().UTC(),
			}
			if err := r.frameLog.Append(record); err != nil {
				st.fail(fmt.Errorf("ingest_frame: frame manifest: %w", err))
			}
		}
	}
}

// framePersisted is the one-line JSON record appended to the frames manifest
// for every cached frame.
type framePersisted struct {
	RunID    string    `json:"run_id"`
	Symbol   string    `json:"symbol"`
	Strategy string    `json:"strategy"`
	Vendor   string    `json:"vendor"`
	Interval string    `json:"interval"`
	Source   string    `json:"source"`
	Path     string    `json:"path"`
	Rows     int       `json:"rows"`
	TS       time.Time `json:"ts"`
}

// inferPriors derives win probability, volatility, and payoff from the last
// sixty bars of the ingested frame.
func (r *Router) inferPriors(_ context.Context, st *State) {
	closes, _, ok := st.Frame.CloseSeries()
	if !ok || len(closes) < 2 {
		st.Halt = true
		st.FallbackReason = "frame_too_short"
		st.event("priors:halt")
		return
	}
	if len(closes) > priorsLookback {
		closes = closes[len(closes)-priorsLookback:]
	}

	returns := make([]float64, 0, len(closes)-1)
	wins := 0
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		ret := closes[i]/closes[i-1] - 1
		returns = append(returns, ret)
		if ret > 0 {
			wins++
		}
	}
	if len(returns) == 0 {
		st.Halt = true
		st.FallbackReason = "frame_too_short"
		st.event("priors:halt")
		return
	}

	var sum float64
	for _, ret := range returns {
		sum += ret
	}
	avg := sum / float64(len(returns))
	var varSum float64
	for _, ret := range returns {
		varSum += (ret - avg) * (ret - avg)
	}
	vol := math.Sqrt(varSum / float64(len(returns)))

	regimeLabel := schema.RegimeUncertain
	if labels, ok := st.Frame.Labels(strategy.ColRegimeLabel); ok && len(labels) > 0 {
		regimeLabel = schema.Regime(labels[len(labels)-1])
	}

	st.Priors = &Priors{
		WinProb:   float64(wins) / float64(len(returns)),
		VolHint:   vol,
		AvgReturn: avg,
		Payoff:    math.Max(1.1, 1+math.Abs(avg)*50),
		Regime:    regimeLabel,
	}
	st.event("priors:win_prob=%.3f", st.Priors.WinProb)
}

// pickStrategy retargets a breakout request when the regime argues for
// momentum or mean reversion.
func (r *Router) pickStrategy(_ context.Context, st *State) {
	st.Strategy = st.Request.Strategy
	if st.Request.Strategy == "breakout" {
		switch st.Priors.Regime {
		case schema.RegimeTrendUp, schema.RegimeTrendDown:
			st.Strategy = "momentum"
		case schema.RegimeSideways, schema.RegimeCalm:
			st.Strategy = "mean_reversion"
		}
	}
	st.event("strategy:%s", st.Strategy)
}

// riskSize enforces the kill switch and computes the clamped target notional.
func (r *Router) riskSize(_ context.Context, st *State) {
	if st.Context.KillSwitchActive {
		st.Halt = true
		st.FallbackReason = st.Context.KillSwitchReason
		st.event("risk:kill_switch")
		return
	}

	kelly := risk.FractionalKelly(st.Priors.WinProb, st.Priors.Payoff, r.cfg.KellyFraction, 0, 1)
	target := decimal.NewFromFloat(kelly * r.cfg.KillSwitchNotional)
	notional := risk.ClampNotional(target,
		decimal.NewFromFloat(r.cfg.MinNotional),
		decimal.NewFromFloat(r.cfg.MaxNotional))
	killSwitch := decimal.NewFromFloat(r.cfg.KillSwitchNotional)
	if notional.GreaterThanOrEqual(killSwitch) {
		st.Halt = true
		st.FallbackReason = "kill_switch_notional"
		st.event("risk:kill_switch")
		return
	}

	st.Sizing = &Sizing{Kelly: kelly, Notional: notional}
	st.event("risk:notional=%s", notional.StringFixed(2))
}

// enqueueOrder converts the sized notional into a quantity, builds the
// intent, and hands it to the bus and the broker as configured.
func (r *Router) enqueueOrder(ctx context.Context, st *State) {
	closes, _, ok := st.Frame.CloseSeries()
	if !ok || len(closes) == 0 || closes[len(closes)-1] <= 0 {
		st.Halt = true
		st.FallbackReason = "no_price"
		st.event("order:halt")
		return
	}
	price := decimal.NewFromFloat(closes[len(closes)-1])

	qty := st.Sizing.Notional.Div(price).IntPart()
	if qty < 1 {
		qty = 1
	}

	intent := &schema.OrderIntent{
		RunID:     st.RunID,
		Symbol:    st.Request.Symbol,
		Strategy:  st.Strategy,
		Side:      schema.TradeSideBuy,
		Qty:       qty,
		Notional:  st.Sizing.Notional,
		PriceHint: price,
		Params:    st.Request.Params,
		Risk: schema.IntentRisk{
			KellyFraction:  st.Sizing.Kelly,
			Probability:    st.Priors.WinProb,
			Payoff:         st.Priors.Payoff,
			TargetNotional: st.Sizing.Notional,
		},
		Timestamp: r.now().UTC(),
	}

	if st.Context.ExecuteOrders && r.broker != nil {
		brokerID, err := r.broker.PlaceBracketOrder(ctx, *intent)
		if err != nil {
			st.fail(fmt.Errorf("enqueue_order: broker: %w", err))
		} else {
			intent.BrokerOrderID = brokerID
		}
	}

	if st.Context.PublishOrders && r.bus != nil {
		evt, err := schema.NewEvent(schema.TopicExecOrders, intent.Symbol, intent)
		if err != nil {
			st.fail(fmt.Errorf("enqueue_order: encode intent: %w", err))
		} else if err := r.bus.Publish(ctx, evt); err != nil {
			st.fail(fmt.Errorf("enqueue_order: publish intent: %w", err))
		} else {
			st.event("order:published")
		}
	}

	st.Intent = intent
	st.event("order:enqueued")
}

// frameLength converts the request window into a synthetic bar count.
func frameLength(req Request) int {
	if req.Start != nil && req.End != nil {
		days := int(req.End.Sub(*req.Start).Hours() / 24)
		if days >= 2 {
			return days
		}
	}
	return 90
}
