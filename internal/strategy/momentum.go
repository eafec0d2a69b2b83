package strategy

// Momentum signals entries when rate of change and its rolling percentile
// rank both clear their floors while price trades above trend.
type Momentum struct{}

// Name returns the registry key.
func (Momentum) Name() string { return "momentum" }

// Generate emits long_entry, long_exit, atr and momentum diagnostics.
//
// Parameters: roc_lookback (10), ema_len (20), rank_window (20),
// min_roc (0.0), min_rank (0.5), atr_len (14).
func (Momentum) Generate(f *Frame, params map[string]any) (*Frame, error) {
	closes, _, ok := f.CloseSeries()
	if !ok {
		return nil, errNoCloseColumn("momentum")
	}

	rocLookback := intParam(params, "roc_lookback", 10)
	if rocLookback < 1 {
		rocLookback = 1
	}
	emaLen := intParam(params, "ema_len", 20)
	rankWindow := intParam(params, "rank_window", 20)
	if rankWindow < 1 {
		rankWindow = 1
	}
	minROC := floatParam(params, "min_roc", 0.0)
	minRank := floatParam(params, "min_rank", 0.5)
	atrLen := intParam(params, "atr_len", 14)

	n := f.Len()
	roc := pctChangeSeries(closes, rocLookback)
	ema := emaSeries(closes, emaLen)
	rank := percentileRankSeries(roc, rankWindow)
	atr := atrSeries(f, closes, atrLen)

	entries := make([]bool, n)
	for i := 0; i < n; i++ {
		entries[i] = closes[i] > ema[i] && roc[i] >= minROC && rank[i] >= minRank
	}
	ApplyGates(f, entries, params)

	exits := make([]bool, n)
	for i := 1; i < n; i++ {
		exits[i] = closes[i] < ema[i] || roc[i] < minROC
	}

	out := f.Clone()
	if err := out.SetNumeric(ColATR, atr); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(ColEMA, ema); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(ColROC, roc); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(ColRank, rank); err != nil {
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
