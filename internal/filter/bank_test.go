package filter

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func rampBars(t *testing.T, n int, price func(i int) float64) *schema.Bars {
	t.Helper()
	base := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	bars := schema.NewBars("AAPL", "alpaca")
	for i := 0; i < n; i++ {
		p := price(i)
		bars.Append(schema.Bar{
			Symbol:    "AAPL",
			Vendor:    "alpaca",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    100,
		})
	}
	return bars
}

func TestBankSmoothsAlternatingRamp(t *testing.T) {
	// Noisy ramp: 100 + 0.5*i with alternating +/-2 around the trend.
	bars := rampBars(t, 60, func(i int) float64 {
		noise := 2.0
		if i%2 == 1 {
			noise = -2.0
		}
		return 100 + 0.5*float64(i) + noise
	})

	bank, err := NewBank("AAPL", "alpaca", Config{})
	require.NoError(t, err)
	frames := bank.Run(bars)
	require.Len(t, frames, 60)

	var rawSteps, smoothSteps float64
	for i := 1; i < len(frames); i++ {
		rawSteps += math.Abs(frames[i].Price - frames[i-1].Price)
		smoothSteps += math.Abs(frames[i].ButterworthPrice - frames[i-1].ButterworthPrice)
	}
	require.Less(t, smoothSteps, rawSteps, "butterworth output should vary less than raw closes")

	last := frames[len(frames)-1]
	require.Greater(t, last.Velocity, 0.0)
	require.InDelta(t, 100+0.5*59, last.FilteredPrice, 2.0)
}

func TestBankFirstFrameEchoesPrice(t *testing.T) {
	bars := rampBars(t, 1, func(int) float64 { return 101.5 })
	bank, err := NewBank("AAPL", "alpaca", Config{})
	require.NoError(t, err)

	frames := bank.Run(bars)
	require.Len(t, frames, 1)
	require.Equal(t, 101.5, frames[0].FilteredPrice)
	require.Equal(t, 0.0, frames[0].Velocity)
	require.Equal(t, 101.5, frames[0].EMAPrice)
	require.GreaterOrEqual(t, frames[0].Uncertainty, 0.0)
}

func TestBankIsCausal(t *testing.T) {
	series := func(tail float64) *schema.Bars {
		return rampBars(t, 40, func(i int) float64 {
			if i >= 20 {
				return tail
			}
			return 100 + float64(i)
		})
	}

	bankA, err := NewBank("AAPL", "alpaca", Config{})
	require.NoError(t, err)
	bankB, err := NewBank("AAPL", "alpaca", Config{})
	require.NoError(t, err)

	framesA := bankA.Run(series(500))
	framesB := bankB.Run(series(-500))

	for i := 0; i < 20; i++ {
		require.Equal(t, framesA[i].FilteredPrice, framesB[i].FilteredPrice, "frame %d must not depend on later bars", i)
		require.Equal(t, framesA[i].Velocity, framesB[i].Velocity)
		require.Equal(t, framesA[i].ButterworthPrice, framesB[i].ButterworthPrice)
		require.Equal(t, framesA[i].EMAPrice, framesB[i].EMAPrice)
	}
}

func TestBankRunResetsBetweenBatches(t *testing.T) {
	bars := rampBars(t, 10, func(i int) float64 { return 100 + float64(i) })
	bank, err := NewBank("AAPL", "alpaca", Config{})
	require.NoError(t, err)

	first := bank.Run(bars)
	second := bank.Run(bars)
	require.Equal(t, first, second, "identical batches must produce identical frames after reset")
}

func TestEMAStep(t *testing.T) {
	ema := NewEMA(3)
	require.Equal(t, 10.0, ema.Step(10))
	// alpha = 2/(3+1) = 0.5
	require.Equal(t, 15.0, ema.Step(20))
	require.Equal(t, 12.5, ema.Step(10))
}

func TestButterworthRejectsUnsupportedOrder(t *testing.T) {
	_, err := NewButterworth(0.1, 3)
	require.Error(t, err)
}

func TestButterworthClampsCutoff(t *testing.T) {
	low, err := NewButterworth(0, 2)
	require.NoError(t, err)
	high, err := NewButterworth(0.9, 2)
	require.NoError(t, err)

	// A clamped-high filter passes most of the signal through.
	var lastLow, lastHigh float64
	for i := 0; i < 50; i++ {
		lastLow = low.Step(100)
		lastHigh = high.Step(100)
	}
	require.InDelta(t, 100, lastHigh, 1.0)
	require.Less(t, lastLow, 100.0)
}

func TestKalmanVelocityTracksCleanRamp(t *testing.T) {
	k := NewKalman(1e-5, 0.01, 1)
	var velocity float64
	for i := 0; i < 40; i++ {
		_, velocity, _ = k.Step(100 + 0.3*float64(i))
	}
	require.InDelta(t, 0.3, velocity, 0.05)
}
