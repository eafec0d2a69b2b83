// Package marketstack implements the Marketstack EOD and intraday client.
package marketstack

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
	defaultBaseURL = "https://api.marketstack.com/v1"

	vendorName = "marketstack"
)

// intradayIntervals maps canonical tokens onto the intraday endpoint; daily
// fetches go through /eod instead.
var intradayIntervals = map[schema.Interval]string{
	schema.Interval1Min:  "1min",
	schema.Interval5Min:  "5min",
	schema.Interval15Min: "15min",
	schema.Interval30Min: "30min",
	schema.Interval1Hour: "1hour",
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

// Client fetches Marketstack bar data.
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

// SupportsStreaming is always false.
func (c *Client) SupportsStreaming() bool { return false }

type envelope struct {
	Data []record `json:"data"`
}

type record struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Symbol string  `json:"symbol"`
}

// FetchBars implements vendors.Client.
func (c *Client) FetchBars(ctx context.Context, req schema.FetchRequest) (*schema.Bars, error) {
	req = req.Normalize()
	bars := schema.NewBars(req.Symbol, vendorName)

	endpoint := "/eod"
	native := ""
	if req.Interval != schema.Interval1Day {
		mapped, ok := intradayIntervals[req.Interval]
		if !ok {
			return bars, vendors.ErrUnsupportedInterval(vendorName, req.Interval)
		}
		endpoint = "/intraday"
		native = mapped
	}
	if strings.TrimSpace(c.opts.Key) == "" {
		return bars, vendors.ErrMissingCredentials(vendorName)
	}

	var payload envelope
	err := c.rest.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("access_key", c.opts.Key)
		params.Set("symbols", req.Symbol)
		if native != "" {
			params.Set("interval", native)
		}
		if req.Limit > 0 {
			params.Set("limit", strconv.Itoa(req.Limit))
		}
		if req.Start != nil {
			params.Set("date_from", req.Start.Format("2006-01-02"))
		}
		if req.End != nil {
			params.Set("date_to", req.End.Format("2006-01-02"))
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+endpoint+"?"+params.Encode(), nil)
	}, &payload)
	if err != nil {
		if vendors.Fatal(err) {
			return bars, err
		}
		c.opts.Logger.Printf("vendor=%s symbol=%s fetch degraded: %v", vendorName, req.Symbol, err)
		return bars, nil
	}

	for _, rec := range payload.Data {
		ts, ok := parseDate(rec.Date)
		if !ok {
			continue
		}
		bars.Append(schema.Bar{
			Symbol:    req.Symbol,
			Vendor:    vendorName,
			Timestamp: ts,
			Open:      rec.Open,
			High:      rec.High,
			Low:       rec.Low,
			Close:     rec.Close,
			Volume:    rec.Volume,
			SourceTag: "marketstack" + endpoint,
		})
	}
	return bars, nil
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
