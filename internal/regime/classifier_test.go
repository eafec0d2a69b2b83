package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func frames(t *testing.T, uncertainty float64, prices []float64) []schema.SignalFrame {
	t.Helper()
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	out := make([]schema.SignalFrame, 0, len(prices))
	for i, p := range prices {
		out = append(out, schema.SignalFrame{
			Symbol:        "AAPL",
			Vendor:        "alpaca",
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			Price:         p,
			FilteredPrice: p,
			Uncertainty:   uncertainty,
		})
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestClassifyTrendUp(t *testing.T) {
	c := NewClassifier(0, Thresholds{})
	snaps := c.Classify(frames(t, 0.01, ramp(40, 100, 0.3)))
	require.Len(t, snaps, 40)
	require.Equal(t, schema.RegimeTrendUp, snaps[len(snaps)-1].Regime)
	require.Greater(t, snaps[len(snaps)-1].Momentum, 0.0)
}

func TestClassifyTrendDown(t *testing.T) {
	c := NewClassifier(0, Thresholds{})
	snaps := c.Classify(frames(t, 0.01, ramp(40, 200, -0.3)))
	require.Equal(t, schema.RegimeTrendDown, snaps[len(snaps)-1].Regime)
	require.Less(t, snaps[len(snaps)-1].Momentum, 0.0)
}

func TestClassifyUncertainDominatesEverything(t *testing.T) {
	c := NewClassifier(5, Thresholds{})
	snaps := c.Classify(frames(t, 0.2, ramp(30, 100, 0.3)))
	for i, snap := range snaps {
		require.Equal(t, schema.RegimeUncertain, snap.Regime, "snapshot %d", i)
	}
}

func TestClassifyHighVolatility(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		if i%2 == 0 {
			prices[i] = 105
		} else {
			prices[i] = 95
		}
	}
	c := NewClassifier(0, Thresholds{})
	snaps := c.Classify(frames(t, 0.01, prices))
	require.Equal(t, schema.RegimeHighVolatility, snaps[len(snaps)-1].Regime)
}

func TestClassifySideways(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		if i%2 == 0 {
			prices[i] = 100.5
		} else {
			prices[i] = 99.5
		}
	}
	c := NewClassifier(0, Thresholds{})
	snaps := c.Classify(frames(t, 0.01, prices))
	last := snaps[len(snaps)-1]
	require.Equal(t, schema.RegimeSideways, last.Regime)
}

func TestClassifyCalm(t *testing.T) {
	c := NewClassifier(0, Thresholds{})
	snaps := c.Classify(frames(t, 0.01, ramp(30, 100, 0)))
	require.Equal(t, schema.RegimeCalm, snaps[len(snaps)-1].Regime)
}

func TestClassifyDeterministic(t *testing.T) {
	input := frames(t, 0.01, ramp(25, 100, 0.2))
	c := NewClassifier(10, Thresholds{})
	first := c.Classify(input)
	second := c.Classify(input)
	require.Equal(t, first, second)
}

func TestClassifyEmptyAndLatest(t *testing.T) {
	c := NewClassifier(0, Thresholds{})
	require.Nil(t, c.Classify(nil))
	latest := c.ClassifyLatest(nil)
	require.Equal(t, schema.RegimeUnknown, latest.Regime)

	snaps := c.ClassifyLatest(frames(t, 0.01, ramp(20, 100, 0.3)))
	require.Equal(t, schema.RegimeTrendUp, snaps.Regime)
}

func TestClassifyFallsBackToRawPrice(t *testing.T) {
	input := frames(t, 0.01, ramp(20, 100, 0.3))
	for i := range input {
		input[i].FilteredPrice = 0
	}
	c := NewClassifier(0, Thresholds{})
	snaps := c.Classify(input)
	require.Equal(t, schema.RegimeTrendUp, snaps[len(snaps)-1].Regime)
}
