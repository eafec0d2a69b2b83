package alphavantage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func newIntradayServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "TIME_SERIES_INTRADAY", r.URL.Query().Get("function"))
		_, _ = w.Write([]byte(`{
			"Meta Data": {"1. Information": "Intraday (5min)"},
			"Time Series (5min)": {
				"2024-05-01 09:35:00": {"1. open":"170.0","2. high":"171.0","3. low":"169.5","4. close":"170.5","5. volume":"1200"},
				"2024-05-01 09:30:00": {"1. open":"169.0","2. high":"170.2","3. low":"168.9","4. close":"170.0","5. volume":"1500"}
			}
		}`))
	}))
}

func TestFetchBarsIntraday(t *testing.T) {
	srv := newIntradayServer(t)
	defer srv.Close()

	client := New(Options{Key: "demo", BaseURL: srv.URL, RequestsPerMinute: 6000})
	bars, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval5Min})
	require.NoError(t, err)
	require.Equal(t, 2, bars.Len())
	// Chronological regardless of payload map order.
	require.True(t, bars.Data[0].Timestamp.Before(bars.Data[1].Timestamp))
	require.Equal(t, 170.0, bars.Data[0].Close)
}

func TestFetchBarsRequiresKey(t *testing.T) {
	client := New(Options{})
	_, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval5Min})
	require.Equal(t, errs.CanonicalMissingCredentials, errs.CanonicalOf(err))
}

func TestFetchBarsDailyIntervalRejectedByIntradayClient(t *testing.T) {
	client := New(Options{Key: "demo"})
	_, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day})
	require.Equal(t, errs.CanonicalUnsupportedInterval, errs.CanonicalOf(err))
}

type stubVendor struct {
	name  string
	bars  *schema.Bars
	calls int
}

func (s *stubVendor) Name() string            { return s.name }
func (s *stubVendor) SupportsStreaming() bool { return false }
func (s *stubVendor) FetchBars(_ context.Context, _ schema.FetchRequest) (*schema.Bars, error) {
	s.calls++
	return s.bars, nil
}

func TestDailyFallbackOrderIsStable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Meta Data": {}}`))
	}))
	defer srv.Close()

	filled := schema.NewBars("AAPL", "yahoo")
	filled.Append(schema.Bar{
		Symbol: "AAPL", Vendor: "yahoo", Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Open: 170, High: 171, Low: 169, Close: 170.5, Volume: 100,
	})
	first := &stubVendor{name: "yahoo", bars: filled}
	second := &stubVendor{name: "twelvedata", bars: schema.NewBars("AAPL", "twelvedata")}

	daily := NewDaily(New(Options{Key: "demo", BaseURL: srv.URL, RequestsPerMinute: 6000}), first, second)

	for i := 0; i < 2; i++ {
		bars, err := daily.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day})
		require.NoError(t, err)
		require.Equal(t, 1, bars.Len())
		require.Equal(t, "yahoo", bars.Vendor)
	}
	require.Equal(t, 2, first.calls)
	require.Zero(t, second.calls)
}

func TestDailyParsesAdjustedVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "TIME_SERIES_DAILY_ADJUSTED", r.URL.Query().Get("function"))
		_, _ = w.Write([]byte(`{
			"Time Series (Daily)": {
				"2024-05-01": {"1. open":"170","2. high":"172","3. low":"169","4. close":"171","5. adjusted close":"170.8","6. volume":"5000"}
			}
		}`))
	}))
	defer srv.Close()

	daily := NewDaily(New(Options{Key: "demo", BaseURL: srv.URL, RequestsPerMinute: 6000}))
	bars, err := daily.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day})
	require.NoError(t, err)
	require.Equal(t, 1, bars.Len())
	require.Equal(t, 5000.0, bars.Data[0].Volume)
}
