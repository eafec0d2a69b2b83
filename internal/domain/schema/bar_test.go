package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeInterval(t *testing.T) {
	cases := map[string]Interval{
		"1Min":  Interval1Min,
		"5min":  Interval5Min,
		"15MIN": Interval15Min,
		"30Min": Interval30Min,
		"60Min": Interval1Hour,
		"1Hour": Interval1Hour,
		"1h":    Interval1Hour,
		"1Day":  Interval1Day,
		"daily": Interval1Day,
	}
	for raw, want := range cases {
		got, ok := NormalizeInterval(raw)
		require.True(t, ok, "interval %q should normalize", raw)
		require.Equal(t, want, got)
	}
	_, ok := NormalizeInterval("2Min")
	require.False(t, ok)
}

func TestBarsAppendKeepsChronologicalOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	bars := NewBars("aapl", "Alpaca")
	require.Equal(t, "AAPL", bars.Symbol)
	require.Equal(t, "alpaca", bars.Vendor)

	bars.Append(Bar{Symbol: "AAPL", Timestamp: base.Add(2 * time.Minute), Open: 3, High: 3, Low: 3, Close: 3})
	bars.Append(Bar{Symbol: "AAPL", Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1})
	bars.Append(Bar{Symbol: "AAPL", Timestamp: base.Add(time.Minute), Open: 2, High: 2, Low: 2, Close: 2})

	require.Equal(t, 3, bars.Len())
	for i := 1; i < bars.Len(); i++ {
		require.True(t, bars.Data[i].Timestamp.After(bars.Data[i-1].Timestamp))
	}
	require.Equal(t, 1.0, bars.Data[0].Close)
	require.Equal(t, 3.0, bars.Data[2].Close)
}

func TestBarsAppendDuplicateTimestampLastWins(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	bars := NewBars("AAPL", "alpaca")
	bars.Append(Bar{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1})
	bars.Append(Bar{Timestamp: ts, Open: 2, High: 2, Low: 2, Close: 2})

	require.Equal(t, 1, bars.Len())
	require.Equal(t, 2.0, bars.Data[0].Close)
}

func TestBarValidateRejectsBrokenEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	valid := Bar{Timestamp: ts, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}
	require.NoError(t, valid.Validate())

	broken := Bar{Timestamp: ts, Open: 10, High: 9.5, Low: 9, Close: 10.5, Volume: 100}
	require.Error(t, broken.Validate())

	negVol := Bar{Timestamp: ts, Open: 10, High: 11, Low: 9, Close: 10, Volume: -1}
	require.Error(t, negVol.Validate())
}

func TestProbabilisticBatchValidateLengthCoherence(t *testing.T) {
	bars := NewBars("AAPL", "alpaca")
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars.Append(Bar{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1})

	batch := &ProbabilisticBatch{
		Bars:       bars,
		Signals:    []SignalFrame{{Symbol: "AAPL", Timestamp: ts}},
		Regimes:    []RegimeSnapshot{{Symbol: "AAPL", Timestamp: ts, Regime: RegimeUnknown}},
		CachePaths: nil,
	}
	require.NoError(t, batch.Validate())

	batch.Regimes = nil
	require.Error(t, batch.Validate())
}

func TestOrderIntentValidate(t *testing.T) {
	intent := OrderIntent{
		RunID:     "run-1",
		Symbol:    "AAPL",
		Strategy:  "breakout",
		Side:      TradeSideBuy,
		Qty:       1,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, intent.Validate())

	intent.Qty = 0
	require.Error(t, intent.Validate())
}
