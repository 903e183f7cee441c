package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/dynascale/pkg/config"
)

func newTestServer(t *testing.T, signalURL string) *DynascaleServer {
	conf := config.DefaultConfig
	conf.Port = 0
	conf.BindAddresses = []string{"127.0.0.1"}
	conf.Signal.URL = signalURL
	conf.Signal.ReconnectAttempts = 0

	server, err := InitializeServer(&conf)
	require.NoError(t, err)
	return server
}

func TestDynascaleServer_HealthCheck(t *testing.T) {
	server := newTestServer(t, "ws://127.0.0.1:1")

	rec := httptest.NewRecorder()
	server.healthCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, server.IsRunning())
}

func TestDynascaleServer_StopsWhenSessionFails(t *testing.T) {
	sfu := httptest.NewServer(http.NotFoundHandler())
	defer sfu.Close()

	server := newTestServer(t, "ws"+sfu.URL[len("http"):])

	done := make(chan error, 1)
	go func() {
		done <- server.Start()
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.False(t, server.IsRunning())
	require.ErrorIs(t, server.Start(), ErrAlreadyStarted)
}

func TestDynascaleServer_Stop(t *testing.T) {
	server := newTestServer(t, "ws://127.0.0.1:1")
	require.False(t, server.closedChan.IsBroken())

	// not running, nothing to stop
	server.Stop(true)
	require.False(t, server.closedChan.IsBroken())

	server.closedChan.Break()
	select {
	case <-server.closedChan.Watch():
	default:
		t.Fatal("fuse not broken")
	}
	rec := httptest.NewRecorder()
	server.healthCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
