// Package alpaca implements the Alpaca Market Data client: historical bar
// fetches over REST and live bar streaming over websocket.
package alpaca

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
)

const (
	defaultRESTBase   = "https://data.alpaca.markets/v2"
	defaultStreamBase = "wss://stream.data.alpaca.markets/v2"

	vendorName = "alpaca"
)

var intervalMap = map[schema.Interval]string{
	schema.Interval1Min:  "1Min",
	schema.Interval5Min:  "5Min",
	schema.Interval15Min: "15Min",
	schema.Interval30Min: "30Min",
	schema.Interval1Hour: "1Hour",
	schema.Interval1Day:  "1Day",
}

// Options configures the client.
type Options struct {
	Key        string
	Secret     string
	Feed       string
	RESTBase   string
	StreamBase string
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Logger     *log.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Feed) == "" {
		o.Feed = "iex"
	}
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

// Client talks to Alpaca Market Data v2.
type Client struct {
	opts Options
	rest *vendors.Executor
}

// New constructs the client. Credentials are immutable after construction.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts: opts,
		rest: vendors.NewExecutor(vendors.ExecutorConfig{
			Vendor:       vendorName,
			Timeout:      opts.Timeout,
			Retries:      opts.Retries,
			BackoffBase:  opts.Backoff,
			AuthFallback: "yahoo",
			Logger:       opts.Logger,
		}),
	}
}

// Name implements vendors.Client.
func (c *Client) Name() string { return vendorName }

// SupportsStreaming reports true only when credentials are present.
func (c *Client) SupportsStreaming() bool {
	return c.hasCredentials()
}

func (c *Client) hasCredentials() bool {
	return strings.TrimSpace(c.opts.Key) != "" && strings.TrimSpace(c.opts.Secret) != ""
}

type barsResponse struct {
	Bars map[string][]barRecord `json:"bars"`
}

type barRecord struct {
	T json.RawMessage `json:"t"`
	O float64         `json:"o"`
	H float64         `json:"h"`
	L float64         `json:"l"`
	C float64         `json:"c"`
	V float64         `json:"v"`
}

// FetchBars implements vendors.Client. Transient upstream failures degrade to
// an empty bar set; only credential and interval misuse surface as errors.
func (c *Client) FetchBars(ctx context.Context, req schema.FetchRequest) (*schema.Bars, error) {
	req = req.Normalize()
	bars := schema.NewBars(req.Symbol, vendorName)

	timeframe, ok := intervalMap[req.Interval]
	if !ok {
		return bars, vendors.ErrUnsupportedInterval(vendorName, req.Interval)
	}
	if !c.hasCredentials() {
		return bars, vendors.ErrMissingCredentials(vendorName)
	}

	var payload barsResponse
	err := c.rest.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("symbols", req.Symbol)
		params.Set("timeframe", timeframe)
		params.Set("feed", c.opts.Feed)
		if req.Limit > 0 {
			params.Set("limit", strconv.Itoa(req.Limit))
		}
		if req.Start != nil {
			params.Set("start", req.Start.Format(time.RFC3339))
		}
		if req.End != nil {
			params.Set("end", req.End.Format(time.RFC3339))
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.RESTBase+"/stocks/bars?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("APCA-API-KEY-ID", c.opts.Key)
		httpReq.Header.Set("APCA-API-SECRET-KEY", c.opts.Secret)
		return httpReq, nil
	}, &payload)
	if err != nil {
		if vendors.Fatal(err) {
			return bars, err
		}
		c.opts.Logger.Printf("vendor=%s symbol=%s fetch degraded: %v", vendorName, req.Symbol, err)
		return bars, nil
	}

	for _, record := range payload.Bars[req.Symbol] {
		ts, ok := parseTimestamp(record.T)
		if !ok {
			continue
		}
		bars.Append(schema.Bar{
			Symbol:    req.Symbol,
			Vendor:    vendorName,
			Timestamp: ts,
			Open:      record.O,
			High:      record.H,
			Low:       record.L,
			Close:     record.C,
			Volume:    record.V,
			SourceTag: "alpaca.bars",
		})
	}
	return bars, nil
}

// parseTimestamp accepts both RFC3339 strings and epoch-nanosecond numbers.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return time.Time{}, false
	}
	if strings.HasPrefix(trimmed, `"`) {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	}
	ns, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns).UTC(), true
}
