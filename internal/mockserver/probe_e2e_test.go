package mockserver_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandprobe/internal/config"
	"sandprobe/internal/mockserver"
	"sandprobe/internal/probe"
	"sandprobe/internal/protocol"
)

func startMock(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(mockserver.New(mockserver.DefaultCatalog(), 0, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + mockserver.PluginPath
}

func TestProbeAgainstMockServer(t *testing.T) {
	cfg := config.Default()
	cfg.URL = startMock(t)
	cfg.ReadTimeout = 2 * time.Second

	var out bytes.Buffer
	report, err := probe.New(cfg, probe.WithPrinter(probe.NewConsolePrinter(&out, false, false))).Run(context.Background())
	require.NoError(t, err)

	// connected, status, two updates, result
	assert.Equal(t, 5, report.Received)
	assert.Equal(t, probe.StateCompleted, report.State)
	assert.True(t, report.Succeeded())
	assert.Equal(t, "Loading plugin_hello\nHello from plugin_hello!", report.Result.Output)
	assert.Contains(t, out.String(), "Plugin execution completed!")
}

func TestProbeSubscribeAgainstMockServer(t *testing.T) {
	cfg := config.Default()
	cfg.URL = startMock(t)
	cfg.ReadTimeout = 200 * time.Millisecond

	report, err := probe.New(cfg, probe.WithCommand(protocol.NewSubscribeCommand("abc"))).Run(context.Background())
	require.NoError(t, err)

	// connected, subscribed, then nothing more is pushed
	assert.Equal(t, 2, report.Received)
	assert.Equal(t, probe.StateTimedOut, report.State)
}

func TestProbeUnknownPluginAgainstMockServer(t *testing.T) {
	cfg := config.Default()
	cfg.URL = startMock(t)
	cfg.PluginID = "plugin_missing"

	report, err := probe.New(cfg).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Completed())
	assert.False(t, report.Succeeded())
	assert.Equal(t, "plugin not found: plugin_missing", report.Result.Error)
}
