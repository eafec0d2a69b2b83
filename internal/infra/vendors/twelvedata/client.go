// Package twelvedata implements the TwelveData time-series client.
package twelvedata

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
)

const (
	defaultBaseURL = "https://api.twelvedata.com"

	vendorName = "twelvedata"
)

var intervalMap = map[schema.Interval]string{
	schema.Interval1Min:  "1min",
	schema.Interval5Min:  "5min",
	schema.Interval15Min: "15min",
	schema.Interval30Min: "30min",
	schema.Interval1Hour: "1h",
	schema.Interval1Day:  "1day",
}

// Options configures the client.
type Options struct {
	Key     string
	BaseURL string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	Logger  *log.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.BaseURL) == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

// Client fetches TwelveData time series.
type Client struct {
	opts Options
	rest *vendors.Executor
}

// New constructs the client.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts: opts,
		rest: vendors.NewExecutor(vendors.ExecutorConfig{
			Vendor:      vendorName,
			Timeout:     opts.Timeout,
			Retries:     opts.Retries,
			BackoffBase: opts.Backoff,
			Logger:      opts.Logger,
		}),
	}
}

// Name implements vendors.Client.
func (c *Client) Name() string { return vendorName }

// SupportsStreaming is always false for this tier.
func (c *Client) SupportsStreaming() bool { return false }

type seriesResponse struct {
	Values []seriesValue `json:"values"`
	Status string        `json:"status"`
}

type seriesValue struct {
	Datetime string `json:"datetime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

// FetchBars implements vendors.Client. TwelveData returns values newest-first;
// they are reversed into chronological order before consumption.
func (c *Client) FetchBars(ctx context.Context, req schema.FetchRequest) (*schema.Bars, error) {
	req = req.Normalize()
	bars := schema.NewBars(req.Symbol, vendorName)

	native, ok := intervalMap[req.Interval]
	if !ok {
		return bars, vendors.ErrUnsupportedInterval(vendorName, req.Interval)
	}
	if strings.TrimSpace(c.opts.Key) == "" {
		return bars, vendors.ErrMissingCredentials(vendorName)
	}

	var payload seriesResponse
	err := c.rest.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("symbol", req.Symbol)
		params.Set("interval", native)
		params.Set("apikey", c.opts.Key)
		if req.Limit > 0 {
			params.Set("outputsize", strconv.Itoa(req.Limit))
		}
		if req.Start != nil {
			params.Set("start_date", req.Start.Format("2006-01-02 15:04:05"))
		}
		if req.End != nil {
			params.Set("end_date", req.End.Format("2006-01-02 15:04:05"))
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/time_series?"+params.Encode(), nil)
	}, &payload)
	if err != nil {
		if vendors.Fatal(err) {
			return bars, err
		}
		c.opts.Logger.Printf("vendor=%s symbol=%s fetch degraded: %v", vendorName, req.Symbol, err)
		return bars, nil
	}

	for i := len(payload.Values) - 1; i >= 0; i-- {
		value := payload.Values[i]
		ts, ok := parseDatetime(value.Datetime)
		if !ok {
			continue
		}
		bars.Append(schema.Bar{
			Symbol:    req.Symbol,
			Vendor:    vendorName,
			Timestamp: ts,
			Open:      parseFloat(value.Open),
			High:      parseFloat(value.High),
			Low:       parseFloat(value.Low),
			Close:     parseFloat(value.Close),
			Volume:    parseFloat(value.Volume),
			SourceTag: "twelvedata.time_series",
		})
	}
	return bars, nil
}

func parseDatetime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
