// Package strategy implements the pure signal generators and the
// column-addressable frame they operate on.
package strategy

import (
	"sort"
	"strings"
	"time"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

// Column is a schema-tagged frame column key. Keys are lowercase by
// construction; lookups on unknown keys yield typed absence, never a panic.
type Column string

const (
	// ColOpen is the bar open price.
	ColOpen Column = "open"
	// ColHigh is the bar high price.
	ColHigh Column = "high"
	// ColLow is the bar low price.
	ColLow Column = "low"
	// ColClose is the bar close price.
	ColClose Column = "close"
	// ColAdjClose is the adjusted close some vendors emit.
	ColAdjClose Column = "adj_close"
	// ColC is the terse close alias used by raw vendor payloads.
	ColC Column = "c"
	// ColVolume is the bar volume.
	ColVolume Column = "volume"
	// ColProbPrice is the raw price replayed through the probabilistic pipeline.
	ColProbPrice Column = "prob_price"
	// ColProbFilteredPrice is the Kalman-filtered price.
	ColProbFilteredPrice Column = "prob_filtered_price"
	// ColFilteredPrice is the filtered price under its plain name.
	ColFilteredPrice Column = "filtered_price"
	// ColProbVelocity is the Kalman velocity estimate.
	ColProbVelocity Column = "prob_velocity"
	// ColProbUncertainty is the Kalman covariance head.
	ColProbUncertainty Column = "prob_uncertainty"
	// ColProbButterworthPrice is the low-pass smoothed price.
	ColProbButterworthPrice Column = "prob_butterworth_price"
	// ColProbEMAPrice is the pipeline EMA price.
	ColProbEMAPrice Column = "prob_ema_price"
	// ColRegimeLabel is the categorical regime per bar.
	ColRegimeLabel Column = "regime_label"

	// ColATR is the average true range emitted by every generator.
	ColATR Column = "atr"
	// ColLongEntry flags one-bar long entry events.
	ColLongEntry Column = "long_entry"
	// ColLongExit flags one-bar long exit events.
	ColLongExit Column = "long_exit"
	// ColEMA is the trend-filter moving average diagnostic.
	ColEMA Column = "ema"
	// ColHighestHigh is the breakout reference level diagnostic.
	ColHighestHigh Column = "highest_high"
	// ColTrailStop is the breakout trailing stop diagnostic.
	ColTrailStop Column = "trail_stop"
	// ColROC is the momentum rate-of-change diagnostic.
	ColROC Column = "roc"
	// ColRank is the momentum rolling percentile rank diagnostic.
	ColRank Column = "rank"
	// ColZScore is the mean-reversion z-score diagnostic.
	ColZScore Column = "zscore"
)

// closePriority orders the columns probed when a generator needs a close series.
var closePriority = []Column{
	ColProbFilteredPrice,
	ColFilteredPrice,
	ColProbPrice,
	ColProbButterworthPrice,
	ColClose,
	ColAdjClose,
	ColC,
}

// Frame is an immutable-index, column-addressable table of equal-length series.
type Frame struct {
	index  []time.Time
	nums   map[Column][]float64
	bools  map[Column][]bool
	labels map[Column][]string
}

// NewFrame builds an empty frame over the given timestamp index.
func NewFrame(index []time.Time) *Frame {
	return &Frame{
		index:  append([]time.Time(nil), index...),
		nums:   make(map[Column][]float64),
		bools:  make(map[Column][]bool),
		labels: make(map[Column][]string),
	}
}

// RawColumn is a named series as vendors or scripts hand it over, before
// column names are normalized.
type RawColumn struct {
	Name   string
	Values []float64
}

// NewFrameFromColumns lowercases raw column names and keeps the first series
// when names collide after normalization.
func NewFrameFromColumns(index []time.Time, raw []RawColumn) (*Frame, error) {
	frame := NewFrame(index)
	seen := make(map[Column]struct{}, len(raw))
	for _, col := range raw {
		key := Column(strings.ToLower(strings.TrimSpace(col.Name)))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if err := frame.SetNumeric(key, col.Values); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// Len reports the row count.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.index)
}

// Index returns the shared timestamp index.
func (f *Frame) Index() []time.Time {
	return f.index
}

// SetNumeric installs a float series; its length must match the index.
func (f *Frame) SetNumeric(col Column, series []float64) error {
	if len(series) != len(f.index) {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("column length must match frame index"))
	}
	f.nums[col] = series
	return nil
}

// Numeric fetches a float series; the second result reports presence.
func (f *Frame) Numeric(col Column) ([]float64, bool) {
	if f == nil {
		return nil, false
	}
	series, ok := f.nums[col]
	return series, ok
}

// SetBool installs a boolean event series.
func (f *Frame) SetBool(col Column, series []bool) error {
	if len(series) != len(f.index) {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("column length must match frame index"))
	}
	f.bools[col] = series
	return nil
}

// Bool fetches a boolean series; the second result reports presence.
func (f *Frame) Bool(col Column) ([]bool, bool) {
	if f == nil {
		return nil, false
	}
	series, ok := f.bools[col]
	return series, ok
}

// SetLabels installs a string series.
func (f *Frame) SetLabels(col Column, series []string) error {
	if len(series) != len(f.index) {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("column length must match frame index"))
	}
	f.labels[col] = series
	return nil
}

// Labels fetches a string series; the second result reports presence.
func (f *Frame) Labels(col Column) ([]string, bool) {
	if f == nil {
		return nil, false
	}
	series, ok := f.labels[col]
	return series, ok
}

// NumericColumns lists the installed float columns in sorted order.
func (f *Frame) NumericColumns() []Column {
	out := make([]Column, 0, len(f.nums))
	for col := range f.nums {
		out = append(out, col)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LabelColumns lists the installed string columns in sorted order.
func (f *Frame) LabelColumns() []Column {
	out := make([]Column, 0, len(f.labels))
	for col := range f.labels {
		out = append(out, col)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BoolColumns lists the installed boolean columns in sorted order.
func (f *Frame) BoolColumns() []Column {
	out := make([]Column, 0, len(f.bools))
	for col := range f.bools {
		out = append(out, col)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone copies the frame so generators never mutate caller data.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.index)
	for col, series := range f.nums {
		out.nums[col] = append([]float64(nil), series...)
	}
	for col, series := range f.bools {
		out.bools[col] = append([]bool(nil), series...)
	}
	for col, series := range f.labels {
		out.labels[col] = append([]string(nil), series...)
	}
	return out
}

// CloseSeries resolves the close column through the configured priority list.
func (f *Frame) CloseSeries() ([]float64, Column, bool) {
	for _, col := range closePriority {
		if series, ok := f.Numeric(col); ok {
			return series, col, true
		}
	}
	return nil, "", false
}

// FromBars maps a bar sequence onto frame columns.
func FromBars(bars *schema.Bars) *Frame {
	n := bars.Len()
	index := make([]time.Time, n)
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, bar := range bars.Data {
		index[i] = bar.Timestamp
		open[i] = bar.Open
		high[i] = bar.High
		low[i] = bar.Low
		closes[i] = bar.Close
		volume[i] = bar.Volume
	}
	frame := NewFrame(index)
	_ = frame.SetNumeric(ColOpen, open)
	_ = frame.SetNumeric(ColHigh, high)
	_ = frame.SetNumeric(ColLow, low)
	_ = frame.SetNumeric(ColClose, closes)
	_ = frame.SetNumeric(ColVolume, volume)
	return frame
}

// FromBatch maps a probabilistic batch onto frame columns, attaching the
// pipeline series under their prob_ names and the regime labels.
func FromBatch(batch *schema.ProbabilisticBatch) *Frame {
	frame := FromBars(batch.Bars)
	n := frame.Len()
	if len(batch.Signals) == n && n > 0 {
		price := make([]float64, n)
		filtered := make([]float64, n)
		velocity := make([]float64, n)
		uncertainty := make([]float64, n)
		butterworth := make([]float64, n)
		ema := make([]float64, n)
		for i, sig := range batch.Signals {
			price[i] = sig.Price
			filtered[i] = sig.FilteredPrice
			velocity[i] = sig.Velocity
			uncertainty[i] = sig.Uncertainty
			butterworth[i] = sig.ButterworthPrice
			ema[i] = sig.EMAPrice
		}
		_ = frame.SetNumeric(ColProbPrice, price)
		_ = frame.SetNumeric(ColProbFilteredPrice, filtered)
		_ = frame.SetNumeric(ColProbVelocity, velocity)
		_ = frame.SetNumeric(ColProbUncertainty, uncertainty)
		_ = frame.SetNumeric(ColProbButterworthPrice, butterworth)
		_ = frame.SetNumeric(ColProbEMAPrice, ema)
	}
	if len(batch.Regimes) == n && n > 0 {
		labels := make([]string, n)
		for i, snap := range batch.Regimes {
			labels[i] = string(snap.Regime)
		}
		_ = frame.SetLabels(ColRegimeLabel, labels)
	}
	return frame
}
