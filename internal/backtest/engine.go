// Package backtest implements the long-only event-driven bar simulator.
package backtest

import (
	"fmt"
	"time"

	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

// Costs models the per-trade friction applied by the simulator.
type Costs struct {
	SlippageBPS float64 `yaml:"slippage_bps" json:"slippage_bps"`
	FeePerShare float64 `yaml:"fee_per_share" json:"fee_per_share"`
}

// Model optionally gates entries and learns from closed trades. risk.BetaKelly
// satisfies this interface.
type Model interface {
	Allow() bool
	Update(win bool)
}

// Config parameterises one simulation run.
type Config struct {
	InitialEquity float64 `yaml:"initial_equity" json:"initial_equity"`
	Costs         Costs   `yaml:"costs" json:"costs"`
	ATRMult       float64 `yaml:"atr_mult" json:"atr_mult"`
	RiskFrac      float64 `yaml:"risk_frac" json:"risk_frac"`
	MinNotional   float64 `yaml:"min_notional" json:"min_notional"`
	MinShares     float64 `yaml:"min_shares" json:"min_shares"`
	Fractional    bool    `yaml:"fractional" json:"fractional"`
	FillNextOpen  bool    `yaml:"fill_next_open" json:"fill_next_open"`

	Model Model `yaml:"-" json:"-"`
}

func (c Config) withDefaults() Config {
	if c.InitialEquity <= 0 {
		c.InitialEquity = 100_000
	}
	if c.ATRMult <= 0 {
		c.ATRMult = 2
	}
	if c.RiskFrac <= 0 || c.RiskFrac > 0.25 {
		c.RiskFrac = 0.02
	}
	return c
}

// ExitReason tags how a trade closed.
type ExitReason string

const (
	// ExitStop marks a protective-stop exit.
	ExitStop ExitReason = "stop"
	// ExitSignal marks a generator-driven exit.
	ExitSignal ExitReason = "signal"
	// ExitEndOfData marks the forced liquidation at the final bar.
	ExitEndOfData ExitReason = "end_of_data"
)

// Trade is one completed round trip.
type Trade struct {
	EntryTS    time.Time  `json:"entry_ts"`
	ExitTS     time.Time  `json:"exit_ts"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Shares     float64    `json:"shares"`
	PnL        float64    `json:"pnl"`
	Reason     ExitReason `json:"reason"`
}

// Point is one bar of the equity curve.
type Point struct {
	TS        time.Time `json:"ts"`
	Equity    float64   `json:"equity"`
	EquityMTM float64   `json:"equity_mtm"`
}

// Result bundles the curve, the trades, and derived metrics.
type Result struct {
	Equity  []Point `json:"equity"`
	Trades  []Trade `json:"trades"`
	Metrics Metrics `json:"metrics"`
}

// Run simulates the frame's entry/exit events under the configuration. The
// frame must carry close prices, long_entry/long_exit events, and an atr
// column; open and low improve fill and stop fidelity when present.
func Run(frame *strategy.Frame, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("backtest: empty frame")
	}
	closes, _, ok := frame.CloseSeries()
	if !ok {
		return nil, fmt.Errorf("backtest: frame has no close series")
	}
	entries, ok := frame.Bool(strategy.ColLongEntry)
	if !ok {
		return nil, fmt.Errorf("backtest: frame has no %s column", strategy.ColLongEntry)
	}
	exits, ok := frame.Bool(strategy.ColLongExit)
	if !ok {
		return nil, fmt.Errorf("backtest: frame has no %s column", strategy.ColLongExit)
	}
	atr, ok := frame.Numeric(strategy.ColATR)
	if !ok {
		return nil, fmt.Errorf("backtest: frame has no %s column", strategy.ColATR)
	}
	lows, hasLows := frame.Numeric(strategy.ColLow)
	opens, hasOpens := frame.Numeric(strategy.ColOpen)
	index := frame.Index()

	slip := cfg.Costs.SlippageBPS / 10_000
	equity := cfg.InitialEquity

	var (
		inPos     bool
		entryTS   time.Time
		entryFill float64
		stopPrice float64
		shares    float64
		trades    []Trade
	)
	points := make([]Point, 0, frame.Len())
	points = append(points, Point{TS: index[0], Equity: equity, EquityMTM: equity})

	closeTrade := func(i int, rawExit float64, reason ExitReason) {
		exitFill := rawExit * (1 - slip)
		pnl := (exitFill-entryFill)*shares - cfg.Costs.FeePerShare*shares
		equity += pnl
		trades = append(trades, Trade{
			EntryTS:    entryTS,
			ExitTS:     index[i],
			EntryPrice: entryFill,
			ExitPrice:  exitFill,
			Shares:     shares,
			PnL:        pnl,
			Reason:     reason,
		})
		if cfg.Model != nil {
			cfg.Model.Update(pnl > 0)
		}
		inPos = false
		shares = 0
	}

	for i := 1; i < frame.Len(); i++ {
		// Exit leg first: a stop or signal exit frees capital before any
		// same-bar entry evaluation.
		if inPos {
			low := closes[i]
			if hasLows {
				low = lows[i]
			}
			switch {
			case low <= stopPrice:
				closeTrade(i, stopPrice, ExitStop)
			case exits[i]:
				closeTrade(i, closes[i], ExitSignal)
			}
		}

		if !inPos && entries[i] && (cfg.Model == nil || cfg.Model.Allow()) {
			base, fillable := entryBase(cfg, closes, opens, hasOpens, i)
			if fillable && atr[i] > 0 {
				fill := base * (1 + slip)
				stop := fill - cfg.ATRMult*atr[i]
				if stop > 0 && stop < fill {
					qty := positionSize(cfg, equity, fill, stop)
					if qty > 0 {
						inPos = true
						entryTS = index[i]
						entryFill = fill
						stopPrice = stop
						shares = qty
						equity -= cfg.Costs.FeePerShare * shares
					}
				}
			}
		}

		mtm := equity
		if inPos {
			mtm += (closes[i] - entryFill) * shares
		}
		points = append(points, Point{TS: index[i], Equity: equity, EquityMTM: mtm})
	}

	if inPos {
		last := frame.Len() - 1
		closeTrade(last, closes[last], ExitEndOfData)
		points[len(points)-1].Equity = equity
		points[len(points)-1].EquityMTM = equity
	}

	return &Result{
		Equity:  points,
		Trades:  trades,
		Metrics: computeMetrics(points, cfg.InitialEquity),
	}, nil
}

func entryBase(cfg Config, closes, opens []float64, hasOpens bool, i int) (float64, bool) {
	if !cfg.FillNextOpen {
		return closes[i], true
	}
	if i+1 >= len(closes) {
		return 0, false
	}
	if hasOpens {
		return opens[i+1], true
	}
	return closes[i+1], true
}

func positionSize(cfg Config, equity, fill, stop float64) float64 {
	riskDollars := equity * cfg.RiskFrac
	qty := riskDollars / (fill - stop)
	if floor := cfg.MinNotional / fill; qty < floor {
		qty = floor
	}
	if qty < cfg.MinShares {
		qty = cfg.MinShares
	}
	if !cfg.Fractional {
		qty = float64(int64(qty))
	}
	if qty <= 0 {
		return 0
	}
	return qty
}
