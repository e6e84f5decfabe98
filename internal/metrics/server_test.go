package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestServer_Disabled(t *testing.T) {
	s := NewServer(&config.MetricsConfig{Enabled: false}, nil, logger.NewNopLogger())
	require.NoError(t, s.Start(t.Context()))
	require.Empty(t, s.Addr())
	require.NoError(t, s.Stop(t.Context()))
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	var unhealthy atomic.Bool
	health := func() error {
		if unhealthy.Load() {
			return errors.New("processor failed")
		}
		return nil
	}

	s := NewServer(&config.MetricsConfig{Enabled: true, ListenAddress: "127.0.0.1:0", Path: "/metrics"},
		health, logger.NewNopLogger())
	require.NoError(t, s.Start(t.Context()))
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	LastProcessedHeightSet("test", 42)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `starboard_last_processed_height{process="test"} 42`)

	resp, err = http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	unhealthy.Store(true)
	resp, err = http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
