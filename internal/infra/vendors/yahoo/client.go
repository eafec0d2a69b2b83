// Package yahoo implements the credential-free Yahoo chart v8 client with a
// throttle circuit breaker.
package yahoo

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
	"github.com/zsh04/ai-trader-sub000/internal/infra/vendors"
)

const (
	defaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

	vendorName = "yahoo"

	breakerOpenInterval  = 60 * time.Second
	breakerThrottleLimit = 5
)

var intervalMap = map[schema.Interval]string{
	schema.Interval1Min:  "1m",
	schema.Interval5Min:  "5m",
	schema.Interval15Min: "15m",
	schema.Interval30Min: "30m",
	schema.Interval1Hour: "60m",
	schema.Interval1Day:  "1d",
}

// Options configures the client.
type Options struct {
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

// Client fetches Yahoo chart v8 payloads. The breaker is owned by the client
// instance and shared by every goroutine using it.
type Client struct {
	opts    Options
	rest    *vendors.Executor
	breaker *gobreaker.CircuitBreaker
}

// New constructs the client. The breaker opens after five consecutive
// throttle events and stays open for sixty seconds.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		opts: opts,
		rest: vendors.NewExecutor(vendors.ExecutorConfig{
			Vendor:      vendorName,
			Timeout:     opts.Timeout,
			Retries:     opts.Retries,
			BackoffBase: opts.Backoff,
			Logger:      opts.Logger,
		}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    vendorName,
		Timeout: breakerOpenInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThrottleLimit
		},
	})
	return c
}

// Name implements vendors.Client.
func (c *Client) Name() string { return vendorName }

// SupportsStreaming is always false; Yahoo serves history only.
func (c *Client) SupportsStreaming() bool { return false }

type chartResponse struct {
	Chart struct {
		Result []chartResult   `json:"result"`
		Error  *map[string]any `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []float64 `json:"open"`
			High   []float64 `json:"high"`
			Low    []float64 `json:"low"`
			Close  []float64 `json:"close"`
			Volume []float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// FetchBars implements vendors.Client. Requests while the breaker is open
// return immediately with circuit_open (503 semantics), degraded to empty.
func (c *Client) FetchBars(ctx context.Context, req schema.FetchRequest) (*schema.Bars, error) {
	req = req.Normalize()
	bars := schema.NewBars(req.Symbol, vendorName)

	native, ok := intervalMap[req.Interval]
	if !ok {
		return bars, vendors.ErrUnsupportedInterval(vendorName, req.Interval)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		payload, fetchErr := c.fetch(ctx, req, native)
		if fetchErr != nil {
			// Only throttle events trip the breaker; other failures pass
			// through wrapped so they count as breaker successes.
			if errs.CanonicalOf(fetchErr) == errs.CanonicalThrottled {
				return nil, fetchErr
			}
			return fetchResult{err: fetchErr}, nil
		}
		return fetchResult{payload: payload}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errs.New(vendorName, errs.CodeUnavailable,
				errs.WithCanonicalCode(errs.CanonicalCircuitOpen),
				errs.WithHTTP(http.StatusServiceUnavailable),
				errs.WithMessage("throttle breaker open"))
		}
		c.opts.Logger.Printf("vendor=%s symbol=%s fetch degraded: %v", vendorName, req.Symbol, err)
		return bars, nil
	}

	wrapped := result.(fetchResult)
	if wrapped.err != nil {
		if vendors.Fatal(wrapped.err) {
			return bars, wrapped.err
		}
		c.opts.Logger.Printf("vendor=%s symbol=%s fetch degraded: %v", vendorName, req.Symbol, wrapped.err)
		return bars, nil
	}

	appendChart(bars, req, wrapped.payload)
	return bars, nil
}

type fetchResult struct {
	payload *chartResponse
	err     error
}

func (c *Client) fetch(ctx context.Context, req schema.FetchRequest, native string) (*chartResponse, error) {
	var payload chartResponse
	err := c.rest.GetJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("interval", native)
		if req.Start != nil {
			params.Set("period1", strconv.FormatInt(req.Start.Unix(), 10))
		}
		if req.End != nil {
			params.Set("period2", strconv.FormatInt(req.End.Unix(), 10))
		}
		if req.Start == nil && req.End == nil {
			params.Set("range", "3mo")
		}
		endpoint := c.opts.BaseURL + "/" + url.PathEscape(req.Symbol) + "?" + params.Encode()
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ai-trader/1.0)")
		return httpReq, nil
	}, &payload)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func appendChart(bars *schema.Bars, req schema.FetchRequest, payload *chartResponse) {
	if payload == nil || len(payload.Chart.Result) == 0 {
		return
	}
	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return
	}
	quote := result.Indicators.Quote[0]
	for i, epoch := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		if quote.Close[i] == 0 && quote.Open[i] == 0 {
			continue
		}
		volume := 0.0
		if i < len(quote.Volume) {
			volume = quote.Volume[i]
		}
		bars.Append(schema.Bar{
			Symbol:    req.Symbol,
			Vendor:    vendorName,
			Timestamp: time.Unix(epoch, 0).UTC(),
			Open:      quote.Open[i],
			High:      quote.High[i],
			Low:       quote.Low[i],
			Close:     quote.Close[i],
			Volume:    volume,
			SourceTag: "yahoo.chart_v8",
		})
	}
}
