// Package schema defines the canonical market-data and decision types shared across the core.
package schema

import (
	"sort"
	"strings"
	"time"

	"github.com/zsh04/ai-trader-sub000/errs"
)

// Interval is the canonical bar interval token understood by every vendor client.
type Interval string

const (
	// Interval1Min is a one-minute bar.
	Interval1Min Interval = "1Min"
	// Interval5Min is a five-minute bar.
	Interval5Min Interval = "5Min"
	// Interval15Min is a fifteen-minute bar.
	Interval15Min Interval = "15Min"
	// Interval30Min is a thirty-minute bar.
	Interval30Min Interval = "30Min"
	// Interval1Hour is a one-hour bar; the token 60Min normalizes to it.
	Interval1Hour Interval = "1Hour"
	// Interval1Day is a daily bar.
	Interval1Day Interval = "1Day"
)

var intervalAliases = map[string]Interval{
	"1min":  Interval1Min,
	"5min":  Interval5Min,
	"15min": Interval15Min,
	"30min": Interval30Min,
	"60min": Interval1Hour,
	"1hour": Interval1Hour,
	"1h":    Interval1Hour,
	"1day":  Interval1Day,
	"1d":    Interval1Day,
	"day":   Interval1Day,
	"daily": Interval1Day,
}

// NormalizeInterval resolves user-facing interval spellings to a canonical token.
func NormalizeInterval(raw string) (Interval, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	interval, ok := intervalAliases[key]
	return interval, ok
}

// Seconds returns the interval span in seconds, or 0 for unknown intervals.
func (i Interval) Seconds() int {
	switch i {
	case Interval1Min:
		return 60
	case Interval5Min:
		return 300
	case Interval15Min:
		return 900
	case Interval30Min:
		return 1800
	case Interval1Hour:
		return 3600
	case Interval1Day:
		return 86400
	default:
		return 0
	}
}

// Duration returns the interval span as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Seconds()) * time.Second
}

// Bar is a single immutable OHLCV observation normalized to UTC.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Vendor    string    `json:"vendor"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	SourceTag string    `json:"source_tag,omitempty"`
}

// Validate checks the OHLC envelope and volume sign.
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return errs.New(b.Vendor, errs.CodeInvalid, errs.WithMessage("bar timestamp required"))
	}
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
		return errs.New(b.Vendor, errs.CodeInvalid, errs.WithMessage("bar violates low <= open,close <= high"))
	}
	if b.Volume < 0 {
		return errs.New(b.Vendor, errs.CodeInvalid, errs.WithMessage("bar volume must be non-negative"))
	}
	return nil
}

// Bars is the ordered bar sequence for one (symbol, vendor) pair.
type Bars struct {
	Symbol   string `json:"symbol"`
	Vendor   string `json:"vendor"`
	Timezone string `json:"timezone"`
	Data     []Bar  `json:"data"`
}

// NewBars constructs an empty sequence tagged with the owning symbol and vendor.
func NewBars(symbol, vendor string) *Bars {
	return &Bars{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Vendor:   strings.ToLower(strings.TrimSpace(vendor)),
		Timezone: "UTC",
		Data:     nil,
	}
}

// Append inserts a bar preserving chronological order; duplicate timestamps collapse last-wins.
func (b *Bars) Append(bar Bar) {
	if b == nil {
		return
	}
	if !bar.Timestamp.IsZero() {
		bar.Timestamp = bar.Timestamp.UTC()
	}
	n := len(b.Data)
	if n == 0 || bar.Timestamp.After(b.Data[n-1].Timestamp) {
		b.Data = append(b.Data, bar)
		return
	}
	idx := sort.Search(n, func(i int) bool {
		return !b.Data[i].Timestamp.Before(bar.Timestamp)
	})
	if idx < n && b.Data[idx].Timestamp.Equal(bar.Timestamp) {
		b.Data[idx] = bar
		return
	}
	b.Data = append(b.Data, Bar{})
	copy(b.Data[idx+1:], b.Data[idx:])
	b.Data[idx] = bar
}

// Len reports the number of bars held.
func (b *Bars) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Last returns the most recent bar when present.
func (b *Bars) Last() (Bar, bool) {
	if b == nil || len(b.Data) == 0 {
		return Bar{}, false
	}
	return b.Data[len(b.Data)-1], true
}

// FetchRequest describes one historical bar fetch against a vendor.
type FetchRequest struct {
	Symbol   string     `json:"symbol"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Interval Interval   `json:"interval"`
	Limit    int        `json:"limit,omitempty"`
}

// Normalize uppercases the symbol and pins the window to UTC.
func (r FetchRequest) Normalize() FetchRequest {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Start != nil {
		utc := r.Start.UTC()
		r.Start = &utc
	}
	if r.End != nil {
		utc := r.End.UTC()
		r.End = &utc
	}
	return r
}
