// Package regime classifies windows of signal frames into categorical market states.
package regime

import (
	"math"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

// DefaultWindow is the frame window used when the caller does not configure one.
const DefaultWindow = 14

// Thresholds carry the classification boundaries.
type Thresholds struct {
	Uncertainty float64 `yaml:"uncertainty"`
	HighVol     float64 `yaml:"high_vol"`
	LowVol      float64 `yaml:"low_vol"`
	Momentum    float64 `yaml:"momentum"`
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Uncertainty <= 0 {
		t.Uncertainty = 0.05
	}
	if t.HighVol <= 0 {
		t.HighVol = 0.02
	}
	if t.LowVol <= 0 {
		t.LowVol = 0.005
	}
	if t.Momentum <= 0 {
		t.Momentum = 0.001
	}
	return t
}

// Classifier maps signal frames to regime snapshots. It is stateless and safe
// to share across goroutines.
type Classifier struct {
	window     int
	thresholds Thresholds
}

// NewClassifier builds a classifier over a window of at least two frames.
func NewClassifier(window int, thresholds Thresholds) *Classifier {
	if window < 2 {
		window = DefaultWindow
	}
	return &Classifier{
		window:     window,
		thresholds: thresholds.withDefaults(),
	}
}

// Window reports the configured frame window.
func (c *Classifier) Window() int { return c.window }

// Classify emits one snapshot per input frame. Volatility is the sample
// standard deviation of log returns over the trailing window; momentum is the
// centered moving average of returns, truncated at the series edges.
func (c *Classifier) Classify(frames []schema.SignalFrame) []schema.RegimeSnapshot {
	n := len(frames)
	if n == 0 {
		return nil
	}

	returns := make([]float64, n)
	for i := 1; i < n; i++ {
		prev := framePrice(frames[i-1])
		cur := framePrice(frames[i])
		if prev > 0 && cur > 0 {
			returns[i] = math.Log(cur / prev)
		}
	}

	half := c.window / 2
	out := make([]schema.RegimeSnapshot, n)
	for i := 0; i < n; i++ {
		lo := i - c.window + 1
		if lo < 1 {
			lo = 1
		}
		volatility := sampleStd(returns[lo : i+1])

		clo := i - half
		if clo < 1 {
			clo = 1
		}
		chi := i + half
		if chi > n-1 {
			chi = n - 1
		}
		momentum := 0.0
		if chi >= clo && i >= 1 {
			momentum = mean(returns[clo : chi+1])
		}

		uncertainty := frames[i].Uncertainty
		out[i] = schema.RegimeSnapshot{
			Symbol:      frames[i].Symbol,
			Timestamp:   frames[i].Timestamp,
			Regime:      c.label(uncertainty, volatility, momentum),
			Volatility:  volatility,
			Uncertainty: uncertainty,
			Momentum:    momentum,
		}
	}
	return out
}

// ClassifyLatest returns the snapshot for the newest frame in the buffer.
func (c *Classifier) ClassifyLatest(frames []schema.SignalFrame) schema.RegimeSnapshot {
	snapshots := c.Classify(frames)
	if len(snapshots) == 0 {
		return schema.RegimeSnapshot{Regime: schema.RegimeUnknown}
	}
	return snapshots[len(snapshots)-1]
}

func (c *Classifier) label(uncertainty, volatility, momentum float64) schema.Regime {
	t := c.thresholds
	switch {
	case uncertainty > t.Uncertainty:
		return schema.RegimeUncertain
	case volatility >= t.HighVol:
		return schema.RegimeHighVolatility
	case volatility <= t.LowVol:
		switch {
		case momentum >= t.Momentum:
			return schema.RegimeTrendUp
		case momentum <= -t.Momentum:
			return schema.RegimeTrendDown
		default:
			return schema.RegimeCalm
		}
	default:
		return schema.RegimeSideways
	}
}

func framePrice(frame schema.SignalFrame) float64 {
	if frame.FilteredPrice > 0 {
		return frame.FilteredPrice
	}
	return frame.Price
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
