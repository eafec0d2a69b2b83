// Package alphavantage implements the AlphaVantage client for intraday and
// daily-adjusted series, including the daily fallback chain to cheaper vendors.
package alphavantage

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
)

const (
	defaultBaseURL = "https://www.alphavantage.co/query"

	vendorName = "alphavantage"

	// timeSeriesLayout is the timestamp format used by intraday payload keys.
	timeSeriesLayout = "2006-01-02 15:04:05"
	dailyLayout      = "2006-01-02"
)

var intervalMap = map[schema.Interval]string{
	schema.Interval1Min:  "1min",
	schema.Interval5Min:  "5min",
	schema.Interval15Min: "15min",
	schema.Interval30Min: "30min",
	schema.Interval1Hour: "60min",
}

// Options configures the client.
type Options struct {
	Key     string
	BaseURL string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
	// RequestsPerMinute throttles against the free-tier quota; default 5.
	RequestsPerMinute int
	Logger            *log.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.BaseURL) == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 5
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

// Client serves intraday fetches against AlphaVantage.
type Client struct {
	opts Options
	rest *vendors.Executor
}

// New constructs the intraday client.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	limiter := rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	return &Client{
		opts: opts,
		rest: vendors.NewExecutor(vendors.ExecutorConfig{
			Vendor:      vendorName,
			Timeout:     opts.Timeout,
			Retries:     opts.Retries,
			BackoffBase: opts.Backoff,
			Limiter:     limiter,
			Logger:      opts.Logger,
		}),
	}
}

// Name implements vendors.Client.
func (c *Client) Name() string { return vendorName }

// SupportsStreaming is always false; AlphaVantage has no streaming API.
func (c *Client) SupportsStreaming() bool { return false }

type seriesValues struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
	// Daily-adjusted payloads shift volume to position six.
	AdjClose    string `json:"5. adjusted close"`
	VolumeDaily string `json:"6. volume"`
}

// FetchBars implements vendors.Client for intraday intervals. Daily fetches
// belong to the Daily client.
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

	payload, err := c.query(ctx, url.Values{
		"function": {"TIME_SERIES_INTRADAY"},
		"symbol":   {req.Symbol},
		"interval": {native},
		"apikey":   {c.opts.Key},
	})
	if err != nil {
		if vendors.Fatal(err) {
			return bars, err
		}
		c.opts.Logger.Printf("vendor=%s symbol=%s fetch degraded: %v", vendorName, req.Symbol, err)
		return bars, nil
	}

	appendSeries(bars, req, payload, timeSeriesLayout, "alphavantage.intraday")
	return bars, nil
}

// query decodes the top-level payload and extracts the one key starting with
// "Time Series"; everything else in the response is metadata.
func (c *Client) query(ctx context.Context, params url.Values) (map[string]seriesValues, error) {
	var envelope map[string]json.RawMessage
	err := c.rest.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"?"+params.Encode(), nil)
	}, &envelope)
	if err != nil {
		return nil, err
	}
	for key, raw := range envelope {
		if !strings.HasPrefix(key, "Time Series") {
			continue
		}
		series := make(map[string]seriesValues)
		if err := json.Unmarshal(raw, &series); err != nil {
			return nil, err
		}
		return series, nil
	}
	return nil, nil
}

func appendSeries(bars *schema.Bars, req schema.FetchRequest, series map[string]seriesValues, layout, tag string) {
	keys := make([]string, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ts, err := time.Parse(layout, key)
		if err != nil {
			continue
		}
		values := series[key]
		volume := values.Volume
		if values.VolumeDaily != "" {
			volume = values.VolumeDaily
		}
		bars.Append(schema.Bar{
			Symbol:    req.Symbol,
			Vendor:    vendorName,
			Timestamp: ts.UTC(),
			Open:      parseFloat(values.Open),
			High:      parseFloat(values.High),
			Low:       parseFloat(values.Low),
			Close:     parseFloat(values.Close),
			Volume:    parseFloat(volume),
			SourceTag: tag,
		})
	}
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
