package strategy

// Breakout signals entries when the high clears the rolling max of prior-bar
// highs and exits on an EMA cross-down or a chandelier-style trailing stop.
type Breakout struct{}

// Name returns the registry key.
func (Breakout) Name() string { return "breakout" }

// Generate emits long_entry, long_exit, atr and breakout diagnostics.
//
// Parameters: lookback (20), buffer (0.0), atr_len (14), atr_mult (2.0),
// use_trend_filter (true), ema_len (50), enter_on_break_bar (false).
func (Breakout) Generate(f *Frame, params map[string]any) (*Frame, error) {
	closes, _, ok := f.CloseSeries()
	if !ok {
		return nil, errNoCloseColumn("breakout")
	}

	lookback := intParam(params, "lookback", 20)
	if lookback < 1 {
		lookback = 1
	}
	buffer := floatParam(params, "buffer", 0.0)
	atrLen := intParam(params, "atr_len", 14)
	atrMult := floatParam(params, "atr_mult", 2.0)
	useTrendFilter := boolParam(params, "use_trend_filter", true)
	emaLen := intParam(params, "ema_len", 50)
	enterOnBreakBar := boolParam(params, "enter_on_break_bar", false)

	n := f.Len()
	highs := resolveHighs(f, closes)
	hh := rollingMaxPrior(highs, lookback)
	ema := emaSeries(closes, emaLen)
	atr := atrSeries(f, closes, atrLen)

	breaks := make([]bool, n)
	for i := 0; i < n; i++ {
		if !(highs[i] >= hh[i]*(1.0+buffer)) {
			continue
		}
		if useTrendFilter && !(closes[i] > ema[i]) {
			continue
		}
		breaks[i] = true
	}

	entries := make([]bool, n)
	if enterOnBreakBar {
		copy(entries, breaks)
	} else {
		for i := 1; i < n; i++ {
			entries[i] = breaks[i-1]
		}
	}
	ApplyGates(f, entries, params)

	// Chandelier stop: trailing-window close max less a multiple of ATR.
	trail := make([]float64, n)
	recentMax := rollingMax(closes, lookback)
	for i := 0; i < n; i++ {
		trail[i] = recentMax[i] - atrMult*atr[i]
	}

	exits := make([]bool, n)
	for i := 1; i < n; i++ {
		crossedDown := useTrendFilter && closes[i] < ema[i] && closes[i-1] >= ema[i-1]
		stopped := closes[i] < trail[i]
		exits[i] = crossedDown || stopped
	}

	out := f.Clone()
	if err := out.SetNumeric(ColATR, atr); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(ColEMA, ema); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(ColHighestHigh, hh); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(ColTrailStop, trail); err != nil {
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
