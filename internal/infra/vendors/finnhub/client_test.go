package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsh04/ai-trader-sub000/errs"
	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

func TestFetchBarsParsesCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		require.Equal(t, "D", r.URL.Query().Get("resolution"))
		require.Equal(t, "tok", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"s":"ok",
			"t":[1714521600,1714608000],
			"o":[170,171],"h":[172,173],"l":[169,170],"c":[171,172.5],"v":[1000,900]}`))
	}))
	defer srv.Close()

	client := New(Options{Token: "tok", RESTBase: srv.URL})
	bars, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day})
	require.NoError(t, err)
	require.Equal(t, 2, bars.Len())
	require.Equal(t, 171.0, bars.Data[0].Close)
	require.True(t, bars.Data[0].Timestamp.Before(bars.Data[1].Timestamp))
}

func TestFetchBarsNoDataStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"s":"no_data"}`))
	}))
	defer srv.Close()

	client := New(Options{Token: "tok", RESTBase: srv.URL})
	bars, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval5Min})
	require.NoError(t, err)
	require.Zero(t, bars.Len())
}

func TestFetchBarsRequiresToken(t *testing.T) {
	client := New(Options{})
	_, err := client.FetchBars(context.Background(), schema.FetchRequest{Symbol: "AAPL", Interval: schema.Interval1Day})
	require.Equal(t, errs.CanonicalMissingCredentials, errs.CanonicalOf(err))
	require.False(t, client.SupportsStreaming())
}
