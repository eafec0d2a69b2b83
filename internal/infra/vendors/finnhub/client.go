// Package finnhub implements the Finnhub client: candle fetches over REST
// and live trade streaming over websocket.
package finnhub

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
	defaultRESTBase   = "https://finnhub.io/api/v1"
	defaultStreamBase = "wss://ws.finnhub.io"

	vendorName = "finnhub"
)

var intervalMap = map[schema.Interval]string{
	schema.Interval1Min:  "1",
	schema.Interval5Min:  "5",
	schema.Interval15Min: "15",
	schema.Interval30Min: "30",
	schema.Interval1Hour: "60",
	schema.Interval1Day:  "D",
}

// Options configures the client.
type Options struct {
	Token      string
	RESTBase   string
	StreamBase string
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Logger     *log.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.RESTBase) == "" {
		o.RESTBase = defaultRESTBase
	}
	if strings.TrimSpace(o.StreamBase) == "" {
		o.StreamBase = defaultStreamBase
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}

// Client talks to the Finnhub REST and websocket APIs.
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

// SupportsStreaming reports true only when a token is present.
func (c *Client) SupportsStreaming() bool {
	return strings.TrimSpace(c.opts.Token) != ""
}

type candleResponse struct {
	Status string    `json:"s"`
	T      []int64   `json:"t"`
	O      []float64 `json:"o"`
	H      []float64 `json:"h"`
	L      []float64 `json:"l"`
	C      []float64 `json:"c"`
	V      []float64 `json:"v"`
}

// FetchBars implements vendors.Client using the stock/candle endpoint.
func (c *Client) FetchBars(ctx context.Context, req schema.FetchRequest) (*schema.Bars, error) {
	req = req.Normalize()
	bars := schema.NewBars(req.Symbol, vendorName)

	resolution, ok := intervalMap[req.Interval]
	if !ok {
		return bars, vendors.ErrUnsupportedInterval(vendorName, req.Interval)
	}
	if strings.TrimSpace(c.opts.Token) == "" {
		return bars, vendors.ErrMissingCredentials(vendorName)
	}

	end := time.Now().UTC()
	if req.End != nil {
		end = *req.End
	}
	start := end.Add(-30 * 24 * time.Hour)
	if req.Start != nil {
		start = *req.Start
	}

	var payload candleResponse
	err := c.rest.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("symbol", req.Symbol)
		params.Set("resolution", resolution)
		params.Set("from", strconv.FormatInt(start.Unix(), 10))
		params.Set("to", strconv.FormatInt(end.Unix(), 10))
		params.Set("token", c.opts.Token)
		return http.NewRequestWithContext(ctx, http.MethodGet, c.opts.RESTBase+"/stock/candle?"+params.Encode(), nil)
	}, &payload)
	if err != nil {
		if vendors.Fatal(err) {
			return bars, err
		}
		c.opts.Logger.Printf("vendor=%s symbol=%s fetch degraded: %v", vendorName, req.Symbol, err)
		return bars, nil
	}

	if payload.Status != "ok" {
		return bars, nil
	}
	n := len(payload.T)
	for i := 0; i < n; i++ {
		if i >= len(payload.O) || i >= len(payload.H) || i >= len(payload.L) || i >= len(payload.C) {
			break
		}
		volume := 0.0
		if i < len(payload.V) {
			volume = payload.V[i]
		}
		bars.Append(schema.Bar{
			Symbol:    req.Symbol,
			Vendor:    vendorName,
			Timestamp: time.Unix(payload.T[i], 0).UTC(),
			Open:      payload.O[i],
			High:      payload.H[i],
			Low:       payload.L[i],
			Close:     payload.C[i],
			Volume:    volume,
			SourceTag: "finnhub.candle",
		})
	}
	return bars, nil
}
