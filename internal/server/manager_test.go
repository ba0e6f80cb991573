package server

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mailflow/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.DefaultServerConfig())
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Nil(t, cfg.TLSConfig)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(okHandler(), Config{Addr: ":8080"}, nil)
	assert.False(t, m.IsRunning())
	assert.Equal(t, ":8080", m.Addr())
	assert.Equal(t, 15*time.Second, m.config.ShutdownTimeout)
}

func TestManager_StartServeShutdown(t *testing.T) {
	m := NewManager(okHandler(), Config{Addr: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	// idempotent
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(okHandler(), Config{Addr: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	assert.ErrorContains(t, m.Start(), "already started")
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(okHandler(), Config{Addr: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorContains(t, m.Start(), "closed")
}

func TestManager_ListenError(t *testing.T) {
	first := NewManager(okHandler(), Config{Addr: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	second := NewManager(okHandler(), Config{Addr: first.Addr()}, zap.NewNop())
	assert.ErrorContains(t, second.Start(), "failed to listen")
}

func TestManager_WaitReturnsOnCancel(t *testing.T) {
	m := NewManager(okHandler(), Config{Addr: "127.0.0.1:0"}, zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestManager_TLSListener(t *testing.T) {
	// A plain HTTP request to a TLS listener is rejected either at the
	// handshake or with the server's 400 "HTTP request to an HTTPS server".
	m := NewManager(okHandler(), Config{
		Addr:      "127.0.0.1:0",
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}, zap.NewNop())
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + m.Addr() + "/")
	if err == nil {
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}
