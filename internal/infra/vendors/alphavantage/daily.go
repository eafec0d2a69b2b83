package alphavantage

import (
	"context"
	"net/url"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
)

// Daily serves daily-adjusted fetches, delegating to a stable fallback chain
// (Yahoo, then TwelveData) whenever AlphaVantage returns an empty series.
type Daily struct {
	base      *Client
	fallbacks []vendors.Client
}

// NewDaily wraps the intraday client with the daily function and fallbacks.
func NewDaily(base *Client, fallbacks ...vendors.Client) *Daily {
	return &Daily{base: base, fallbacks: fallbacks}
}

// Name implements vendors.Client.
func (d *Daily) Name() string { return vendorName }

// SupportsStreaming is always false.
func (d *Daily) SupportsStreaming() bool { return false }

// FetchBars fetches TIME_SERIES_DAILY_ADJUSTED, walking the fallback chain in
// registration order on an empty response.
func (d *Daily) FetchBars(ctx context.Context, req schema.FetchRequest) (*schema.Bars, error) {
	req = req.Normalize()
	bars := schema.NewBars(req.Symbol, vendorName)

	if req.Interval != schema.Interval1Day {
		return bars, vendors.ErrUnsupportedInterval(vendorName, req.Interval)
	}
	if d.base.opts.Key == "" {
		return bars, vendors.ErrMissingCredentials(vendorName)
	}

	payload, err := d.base.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY_ADJUSTED"},
		"symbol":     {req.Symbol},
		"outputsize": {"compact"},
		"apikey":     {d.base.opts.Key},
	})
	if err != nil && vendors.Fatal(err) {
		return bars, err
	}
	if err != nil {
		d.base.opts.Logger.Printf("vendor=%s symbol=%s daily fetch degraded: %v", vendorName, req.Symbol, err)
	} else {
		appendSeries(bars, req, payload, dailyLayout, "alphavantage.daily_adjusted")
	}
	if bars.Len() > 0 {
		return bars, nil
	}

	for _, fallback := range d.fallbacks {
		d.base.opts.Logger.Printf("vendor=%s symbol=%s empty daily series, delegating to %s",
			vendorName, req.Symbol, fallback.Name())
		delegated, ferr := fallback.FetchBars(ctx, req)
		if ferr != nil {
			continue
		}
		if delegated.Len() > 0 {
			return delegated, nil
		}
	}
	return bars, nil
}
