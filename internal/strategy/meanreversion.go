package strategy

import "math"

// MeanReversion signals entries when the close z-score against its rolling
// mean drops below the entry floor and exits once it reverts.
type MeanReversion struct{}

// Name returns the registry key.
func (MeanReversion) Name() string { return "mean_reversion" }

// Generate emits long_entry, long_exit, atr and the z-score diagnostic.
//
// Parameters: lookback (20), z_entry (-2.0), z_exit (0.0), atr_len (14).
func (MeanReversion) Generate(f *Frame, params map[string]any) (*Frame, error) {
	closes, _, ok := f.CloseSeries()
	if !ok {
		return nil, errNoCloseColumn("mean_reversion")
	}

	lookback := intParam(params, "lookback", 20)
	if lookback < 2 {
		lookback = 2
	}
	zEntry := floatParam(params, "z_entry", -2.0)
	zExit := floatParam(params, "z_exit", 0.0)
	atrLen := intParam(params, "atr_len", 14)

	n := f.Len()
	means, stds := rollingMeanStd(closes, lookback)
	atr := atrSeries(f, closes, atrLen)

	zscore := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case math.IsNaN(means[i]):
			zscore[i] = math.NaN()
		case stds[i] == 0:
			zscore[i] = 0
		default:
			zscore[i] = (closes[i] - means[i]) / stds[i]
		}
	}

	entries := make([]bool, n)
	exits := make([]bool, n)
	for i := 0; i < n; i++ {
		entries[i] = zscore[i] <= zEntry
		if i > 0 {
			exits[i] = zscore[i] >= zExit
		}
	}
	ApplyGates(f, entries, params)

	out := f.Clone()
	if err := out.SetNumeric(ColATR, atr); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(ColZScore, zscore); err != nil {
		return nil, err
	}
	if err := out.SetBool(ColLongEntry, entries); err != nil {
		return nil, err
	}
	if err := out.SetBool(ColLongExit, exits); err != nil {
		return nil, err
	}
	return out, nil
}
