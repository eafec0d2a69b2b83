package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), "", "test-service")
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NoError(t, shutdown(context.Background()))
}

func TestParseEndpoint(t *testing.T) {
	host, insecure, err := parseEndpoint("http://collector:4318")
	require.NoError(t, err)
	require.Equal(t, "collector:4318", host)
	require.True(t, insecure)

	host, insecure, err = parseEndpoint("https://collector.example.com")
	require.NoError(t, err)
	require.Equal(t, "collector.example.com", host)
	require.False(t, insecure)
}
