package strategy

import "math"

// Warmup slots carry NaN so comparisons against them stay false, which keeps
// event columns quiet until each indicator has a full window.

// emaSeries computes a seed-first exponential moving average with
// alpha = 2/(span+1).
func emaSeries(values []float64, span int) []float64 {
	if span < 1 {
		span = 1
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	for i, v := range values {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = out[i-1] + alpha*(v-out[i-1])
	}
	return out
}

// rollingMaxPrior computes the max of the window strictly before each slot.
func rollingMaxPrior(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < window {
			out[i] = math.NaN()
			continue
		}
		highest := values[i-window]
		for j := i - window + 1; j < i; j++ {
			if values[j] > highest {
				highest = values[j]
			}
		}
		out[i] = highest
	}
	return out
}

// rollingMax computes the inclusive trailing-window max.
func rollingMax(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		highest := values[i-window+1]
		for j := i - window + 2; j <= i; j++ {
			if values[j] > highest {
				highest = values[j]
			}
		}
		out[i] = highest
	}
	return out
}

// rollingMeanStd computes inclusive trailing-window mean and sample std.
func rollingMeanStd(values []float64, window int) ([]float64, []float64) {
	means := make([]float64, len(values))
	stds := make([]float64, len(values))
	for i := range values {
		if i < window-1 {
			means[i] = math.NaN()
			stds[i] = math.NaN()
			continue
		}
		var sum float64
		for j := i - window + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(window)
		var ss float64
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - mean
			ss += d * d
		}
		means[i] = mean
		if window < 2 {
			stds[i] = 0
			continue
		}
		stds[i] = math.Sqrt(ss / float64(window-1))
	}
	return means, stds
}

// rollingMean computes the inclusive trailing-window mean, propagating NaN.
func rollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		var sum float64
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				sum = math.NaN()
				break
			}
			sum += values[j]
		}
		out[i] = sum / float64(window)
	}
	return out
}

// pctChangeSeries computes values[i]/values[i-lookback] - 1.
func pctChangeSeries(values []float64, lookback int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < lookback || values[i-lookback] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i]/values[i-lookback] - 1.0
	}
	return out
}

// percentileRankSeries ranks each slot against its inclusive trailing window,
// reporting the fraction of window values at or below it.
func percentileRankSeries(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < window-1 || math.IsNaN(values[i]) {
			out[i] = math.NaN()
			continue
		}
		count := 0
		valid := 0
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				continue
			}
			valid++
			if values[j] <= values[i] {
				count++
			}
		}
		if valid == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(count) / float64(valid)
	}
	return out
}

// trueRangeSeries computes per-bar true range from OHLC columns, falling back
// to absolute close deltas when highs or lows are missing.
func trueRangeSeries(f *Frame, closes []float64) []float64 {
	highs, hasHighs := f.Numeric(ColHigh)
	lows, hasLows := f.Numeric(ColLow)
	out := make([]float64, len(closes))
	if !hasHighs || !hasLows {
		for i := range closes {
			if i == 0 {
				out[i] = math.NaN()
				continue
			}
			out[i] = math.Abs(closes[i] - closes[i-1])
		}
		return out
	}
	for i := range closes {
		hl := highs[i] - lows[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		tr := hl
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		out[i] = tr
	}
	return out
}

// atrSeries computes the simple moving average of true range.
func atrSeries(f *Frame, closes []float64, length int) []float64 {
	if length < 1 {
		length = 1
	}
	return rollingMean(trueRangeSeries(f, closes), length)
}

// ATRSeries computes the average true range against the frame's resolved
// close series. Script generators that emit no atr column fall back to this.
func ATRSeries(f *Frame, length int) ([]float64, error) {
	closes, _, ok := f.CloseSeries()
	if !ok {
		return nil, errNoCloseColumn("atr")
	}
	return atrSeries(f, closes, length), nil
}
