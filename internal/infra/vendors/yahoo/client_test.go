package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

const chartBody = `{"chart":{"result":[{
	"timestamp":[1714521600,1714608000],
	"indicators":{
		"quote":[{"open":[170,171],"high":[172,173],"low":[169,170],"close":[171,172.5],"volume":[1000,900]}],
		"adjclose":[{"adjclose":[170.8,172.3]}]
	}
}],"error":null}}`

func TestFetchBarsParsesChart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "AAPL")
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL})
	bars, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day})
	require.NoError(t, err)
	require.Equal(t, 2, bars.Len())
	require.Equal(t, 172.5, bars.Data[1].Close)
}

func TestBreakerOpensAfterConsecutiveThrottles(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Retries: 1, Backoff: time.Millisecond})
	req := schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day}

	// Five throttled fetches trip the breaker.
	for i := 0; i < 5; i++ {
		bars, err := client.FetchBars(context.Background(), req)
		require.NoError(t, err)
		require.Zero(t, bars.Len())
	}
	tripped := calls.Load()

	// While open the client never reaches the network.
	for i := 0; i < 3; i++ {
		bars, err := client.FetchBars(context.Background(), req)
		require.NoError(t, err)
		require.Zero(t, bars.Len())
	}
	require.Equal(t, tripped, calls.Load())
}

func TestNonThrottleFailuresDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Options{BaseURL: srv.URL, Retries: 1, Backoff: time.Millisecond})
	req := schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day}

	for i := 0; i < 8; i++ {
		bars, err := client.FetchBars(context.Background(), req)
		require.NoError(t, err)
		require.Zero(t, bars.Len())
	}
	// Every call reached the server; the breaker never opened.
	require.Equal(t, int32(8), calls.Load())
}
