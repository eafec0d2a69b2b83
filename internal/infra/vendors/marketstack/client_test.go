package marketstack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func TestFetchBarsDailyUsesEOD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eod", r.URL.Path)
		require.Equal(t, "key", r.URL.Query().Get("access_key"))
		_, _ = w.Write([]byte(`{"data":[
			{"date":"2024-05-01T00:00:00+0000","open":170,"high":172,"low":169,"close":171,"volume":1000,"symbol":"AAPL"}
		]}`))
	}))
	defer srv.Close()

	client := New(Options{Key: "key", BaseURL: srv.URL})
	bars, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day})
	require.NoError(t, err)
	require.Equal(t, 1, bars.Len())
	require.Equal(t, 171.0, bars.Data[0].Close)
}

func TestFetchBarsIntradayUsesIntervalEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/intraday", r.URL.Path)
		require.Equal(t, "5min", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := New(Options{Key: "key", BaseURL: srv.URL})
	bars, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval5Min})
	require.NoError(t, err)
	require.Zero(t, bars.Len())
}
