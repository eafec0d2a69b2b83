package vendors

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// retryableStatus lists the transient HTTP statuses worth another attempt.
var retryableStatus = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// ExecutorConfig tunes one shared REST executor.
type ExecutorConfig struct {
	Vendor       string
	Timeout      time.Duration
	Retries      int
	BackoffBase  time.Duration
	Limiter      *rate.Limiter
	AuthFallback string
	Logger       *log.Logger
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	return c
}

// Executor issues vendor HTTP requests with rate limiting, jittered
// exponential retry on transient statuses and the shared 401 protocol:
// one immediate retry, then a hard auth failure carrying the fallback hint.
type Executor struct {
	cfg    ExecutorConfig
	client *http.Client
}

// NewExecutor builds an executor around a dedicated http.Client.
func NewExecutor(cfg ExecutorConfig) *Executor {
	cfg = cfg.withDefaults()
	return &Executor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// GetJSON executes the request produced by build, decoding a 200 response
// into out. build is invoked once per attempt so request bodies are fresh.
func (e *Executor) GetJSON(ctx context.Context, build func(ctx context.Context) (*http.Request, error), out any) error {
	body, err := e.execute(ctx, build)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errsDecode(e.cfg.Vendor, err)
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = e.cfg.BackoffBase
	backoffCfg.MaxInterval = 30 * time.Second

	unauthorized := 0
	var lastErr error

	for attempt := 0; attempt < e.cfg.Retries; attempt++ {
		if e.cfg.Limiter != nil {
			if err := e.cfg.Limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", e.cfg.Vendor, err)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = errsNetwork(e.cfg.Vendor, err)
			if !e.sleep(ctx, backoffCfg.NextBackOff()) {
				return nil, lastErr
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, errsNetwork(e.cfg.Vendor, readErr)
			}
			return body, nil

		case resp.StatusCode == http.StatusUnauthorized:
			unauthorized++
			if unauthorized >= 2 {
				return nil, errsAuthFailed(e.cfg.Vendor, e.cfg.AuthFallback, body)
			}
			// One immediate retry before declaring the credentials dead.
			continue

		default:
			lastErr = errsStatus(e.cfg.Vendor, resp.StatusCode, body)
			if _, retryable := retryableStatus[resp.StatusCode]; !retryable {
				return nil, lastErr
			}
			wait := retryAfter(resp.Header)
			if wait <= 0 {
				wait = backoffCfg.NextBackOff()
			}
			if !e.sleep(ctx, wait) {
				return nil, lastErr
			}
		}
	}

	if lastErr == nil {
		lastErr = errsStatus(e.cfg.Vendor, 0, nil)
	}
	e.cfg.Logger.Printf("vendor=%s retries exhausted: %v", e.cfg.Vendor, lastErr)
	return nil, lastErr
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 || d == backoff.Stop {
		d = e.cfg.BackoffBase
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// retryAfter honors numeric Retry-After headers; HTTP-date forms are rare on
// these vendors and fall back to the backoff schedule.
func retryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
