package vendors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/errs"
)

func buildGet(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func newTestExecutor(retries int) *Executor {
	return NewExecutor(ExecutorConfig{
		Vendor:      "testvendor",
		Timeout:     2 * time.Second,
		Retries:     retries,
		BackoffBase: time.Millisecond,
	})
}

func TestGetJSONDecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"price": 42.5}`))
	}))
	defer srv.Close()

	var out struct {
		Price float64 `json:"price"`
	}
	err := newTestExecutor(2).GetJSON(context.Background(), buildGet(srv.URL), &out)
	require.NoError(t, err)
	require.Equal(t, 42.5, out.Price)
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := newTestExecutor(3).GetJSON(context.Background(), buildGet(srv.URL), &struct{}{})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestNonRetryableStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestExecutor(3).GetJSON(context.Background(), buildGet(srv.URL), nil)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestUnauthorizedRetriesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	exec := NewExecutor(ExecutorConfig{
		Vendor:       "testvendor",
		Retries:      5,
		BackoffBase:  time.Millisecond,
		AuthFallback: "yahoo",
	})
	err := exec.GetJSON(context.Background(), buildGet(srv.URL), nil)
	require.Error(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, errs.CanonicalAuthFailed, errs.CanonicalOf(err))

	var envelope *errs.E
	require.True(t, errs.As(err, &envelope))
	require.Contains(t, envelope.Remediation, "yahoo")
}

func TestHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	err := newTestExecutor(2).GetJSON(context.Background(), buildGet(srv.URL), nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}
