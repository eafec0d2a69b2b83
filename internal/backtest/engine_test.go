package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

type stubModel struct {
	allow   bool
	updates []bool
}

func (m *stubModel) Allow() bool     { return m.allow }
func (m *stubModel) Update(win bool) { m.updates = append(m.updates, win) }

func buildFrame(t *testing.T, closes, lows, atr []float64, entries, exits []bool) *strategy.Frame {
	t.Helper()
	index := make([]time.Time, len(closes))
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range index {
		index[i] = base.AddDate(0, 0, i)
	}
	frame := strategy.NewFrame(index)
	require.NoError(t, frame.SetNumeric(strategy.ColClose, closes))
	if lows != nil {
		require.NoError(t, frame.SetNumeric(strategy.ColLow, lows))
	}
	require.NoError(t, frame.SetNumeric(strategy.ColATR, atr))
	require.NoError(t, frame.SetBool(strategy.ColLongEntry, entries))
	require.NoError(t, frame.SetBool(strategy.ColLongExit, exits))
	return frame
}

func TestRunSignalExitRoundTrip(t *testing.T) {
	closes := []float64{100, 100, 110, 120, 120}
	atr := []float64{5, 5, 5, 5, 5}
	entries := []bool{false, true, false, false, false}
	exits := []bool{false, false, false, true, false}
	frame := buildFrame(t, closes, nil, atr, entries, exits)

	result, err := Run(frame, Config{
		InitialEquity: 10_000,
		RiskFrac:      0.02,
		ATRMult:       2,
		Fractional:    true,
	})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	// Entry: fill 100, stop 90, risk $200 -> 20 shares. Exit at close 120.
	require.InDelta(t, 100, trade.EntryPrice, 1e-9)
	require.InDelta(t, 20, trade.Shares, 1e-9)
	require.InDelta(t, 400, trade.PnL, 1e-9)
	require.Equal(t, ExitSignal, trade.Reason)
	require.InDelta(t, 10_400, result.Equity[len(result.Equity)-1].Equity, 1e-9)
}

func TestRunStopExitClampsToStopPrice(t *testing.T) {
	closes := []float64{100, 100, 100, 100}
	lows := []float64{100, 100, 85, 100}
	atr := []float64{5, 5, 5, 5}
	entries := []bool{false, true, false, false}
	exits := []bool{false, false, false, false}
	frame := buildFrame(t, closes, lows, atr, entries, exits)

	result, err := Run(frame, Config{
		InitialEquity: 10_000,
		RiskFrac:      0.02,
		ATRMult:       2,
		Fractional:    true,
	})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	require.Equal(t, ExitStop, trade.Reason)
	require.InDelta(t, 90, trade.ExitPrice, 1e-9, "stop exits fill at the stop price")
	require.InDelta(t, -200, trade.PnL, 1e-9)
}

func TestRunSlippageAndFees(t *testing.T) {
	closes := []float64{100, 100, 120, 120}
	atr := []float64{5, 5, 5, 5}
	entries := []bool{false, true, false, false}
	exits := []bool{false, false, true, false}
	frame := buildFrame(t, closes, nil, atr, entries, exits)

	result, err := Run(frame, Config{
		InitialEquity: 10_000,
		RiskFrac:      0.02,
		ATRMult:       2,
		Fractional:    true,
		Costs:         Costs{SlippageBPS: 10, FeePerShare: 0.01},
	})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	require.InDelta(t, 100*1.001, trade.EntryPrice, 1e-9, "entry fill inflated by slippage")
	require.InDelta(t, 120*0.999, trade.ExitPrice, 1e-9, "exit fill reduced by slippage")
	require.Less(t, trade.PnL, (trade.ExitPrice-trade.EntryPrice)*trade.Shares, "fees debit pnl")
}

func TestRunModelGateBlocksEntries(t *testing.T) {
	closes := []float64{100, 100, 110, 120}
	atr := []float64{5, 5, 5, 5}
	entries := []bool{false, true, true, false}
	exits := []bool{false, false, false, true}
	frame := buildFrame(t, closes, nil, atr, entries, exits)

	model := &stubModel{allow: false}
	result, err := Run(frame, Config{InitialEquity: 10_000, Model: model})
	require.NoError(t, err)
	require.Empty(t, result.Trades)
	require.Empty(t, model.updates)
}

func TestRunModelUpdatedOncePerTrade(t *testing.T) {
	closes := []float64{100, 100, 120, 100, 100, 90, 100}
	atr := []float64{5, 5, 5, 5, 5, 5, 5}
	entries := []bool{false, true, false, false, true, false, false}
	exits := []bool{false, false, true, false, false, true, false}
	frame := buildFrame(t, closes, nil, atr, entries, exits)

	model := &stubModel{allow: true}
	result, err := Run(frame, Config{InitialEquity: 10_000, Fractional: true, Model: model})
	require.NoError(t, err)
	require.Len(t, result.Trades, 2)
	require.Equal(t, []bool{true, false}, model.updates)
}

func TestRunOpenPositionLiquidatedAtEnd(t *testing.T) {
	closes := []float64{100, 100, 110, 115}
	atr := []float64{5, 5, 5, 5}
	entries := []bool{false, true, false, false}
	exits := []bool{false, false, false, false}
	frame := buildFrame(t, closes, nil, atr, entries, exits)

	result, err := Run(frame, Config{InitialEquity: 10_000, Fractional: true})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	require.Equal(t, ExitEndOfData, result.Trades[0].Reason)
	last := result.Equity[len(result.Equity)-1]
	require.InDelta(t, last.Equity, last.EquityMTM, 1e-9)
}

func TestRunIsDeterministic(t *testing.T) {
	closes := []float64{100, 101, 99, 104, 103, 108, 102, 110, 111, 107}
	lows := []float64{99, 100, 97, 102, 101, 106, 100, 108, 109, 105}
	atr := []float64{2, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	entries := []bool{false, true, false, true, false, false, true, false, false, false}
	exits := []bool{false, false, true, false, false, true, false, false, true, false}

	cfg := Config{InitialEquity: 50_000, RiskFrac: 0.02, ATRMult: 2, Costs: Costs{SlippageBPS: 5, FeePerShare: 0.005}}

	first, err := Run(buildFrame(t, closes, lows, atr, entries, exits), cfg)
	require.NoError(t, err)
	second, err := Run(buildFrame(t, closes, lows, atr, entries, exits), cfg)
	require.NoError(t, err)
	require.Equal(t, first.Equity, second.Equity)
	require.Equal(t, first.Trades, second.Trades)
	require.Equal(t, first.Metrics, second.Metrics)
}

func TestMetricsDrawdownAndCAGR(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Point{
		{TS: base, EquityMTM: 100},
		{TS: base.AddDate(0, 6, 0), EquityMTM: 120},
		{TS: base.AddDate(0, 9, 0), EquityMTM: 90},
		{TS: base.AddDate(1, 0, 0), EquityMTM: 110},
	}
	m := computeMetrics(points, 100)
	require.InDelta(t, 0.25, m.MaxDrawdown, 1e-9, "peak 120 to trough 90")
	require.Greater(t, m.CAGR, 0.0)
}
