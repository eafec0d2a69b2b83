package router

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

// syntheticFrame builds a deterministic daily-bar frame seeded from the
// symbol, so offline runs and fetch fallbacks are reproducible. The walk has
// a symbol-dependent drift plus bounded oscillation; prices stay positive.
func syntheticFrame(symbol string, bars int, asOf time.Time) *strategy.Frame {
	if bars < 2 {
		bars = 2
	}
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(symbol))
	seed := hasher.Sum64()

	base := 50 + float64(seed%40_000)/100
	drift := (float64(seed%7) - 3) * 0.05
	state := seed

	end := asOf.UTC().Truncate(24 * time.Hour)
	index := make([]time.Time, bars)
	closes := make([]float64, bars)
	for i := 0; i < bars; i++ {
		index[i] = end.AddDate(0, 0, i-bars+1)
		state = state*6364136223846793005 + 1442695040888963407
		noise := (float64(state%2001)/1000 - 1) * 0.4
		closes[i] = base + drift*float64(i) + noise
		if closes[i] < 1 {
			closes[i] = 1
		}
	}

	label := string(schema.RegimeSideways)
	switch {
	case drift > 0.01:
		label = string(schema.RegimeTrendUp)
	case drift < -0.01:
		label = string(schema.RegimeTrendDown)
	}
	labels := make([]string, bars)
	for i := range labels {
		labels[i] = label
	}

	opens := make([]float64, bars)
	highs := make([]float64, bars)
	lows := make([]float64, bars)
	volume := make([]float64, bars)
	for i, c := range closes {
		opens[i] = c
		highs[i] = c + math.Abs(drift)
		lows[i] = c - math.Abs(drift)
		volume[i] = 1_000_000
	}

	frame := strategy.NewFrame(index)
	_ = frame.SetNumeric(strategy.ColOpen, opens)
	_ = frame.SetNumeric(strategy.ColHigh, highs)
	_ = frame.SetNumeric(strategy.ColLow, lows)
	_ = frame.SetNumeric(strategy.ColClose, closes)
	_ = frame.SetNumeric(strategy.ColVolume, volume)
	_ = frame.SetLabels(strategy.ColRegimeLabel, labels)
	return frame
}
