package probe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandprobe/internal/config"
	"sandprobe/internal/metrics"
)

const defaultPayload = `{"command":"execute_plugin","plugin_id":"plugin_hello","parameters":{"test":"data"},"timeout":10000}`

// scriptedServer reads the command frame, then writes frames, then stays silent
// until the client goes away. Every frame the client sends is kept.
type scriptedServer struct {
	*httptest.Server
	mu      sync.Mutex
	inbound [][]byte
}

func newScriptedServer(t *testing.T, frames ...string) *scriptedServer {
	t.Helper()
	s := &scriptedServer{}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		first := true
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			s.mu.Lock()
			s.inbound = append(s.inbound, data)
			s.mu.Unlock()

			if first {
				first = false
				for _, f := range frames {
					if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
						return
					}
				}
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *scriptedServer) commands() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.inbound...)
}

func testConfig(url string, readTimeout time.Duration) *config.Config {
	cfg := config.Default()
	cfg.URL = url
	cfg.ReadTimeout = readTimeout
	cfg.DialTimeout = 2 * time.Second
	return cfg
}

func frames(n int, format string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(format, i+1)
	}
	return out
}

func TestRun_ImmediateResultCompletes(t *testing.T) {
	srv := newScriptedServer(t, `{"type":"result","success":true,"output":"Hello"}`)
	var out bytes.Buffer

	readTimeout := 2 * time.Second
	start := time.Now()
	report, err := New(testConfig(srv.wsURL(), readTimeout), WithPrinter(NewConsolePrinter(&out, false, false))).Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), readTimeout, "must not wait for the read timeout")
	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []State{StateWaiting, StateReceived, StateCompleted}, report.Trace)
	assert.Equal(t, 1, report.Received)
	assert.True(t, report.Succeeded())
	assert.Equal(t, "Hello", report.Result.Output)

	assert.Equal(t, 1, strings.Count(out.String(), "📥 Received"))
	assert.Contains(t, out.String(), "Plugin execution completed!")
	assert.NotContains(t, out.String(), "Timeout")
}

func TestRun_NineFramesThenSilenceTimesOut(t *testing.T) {
	srv := newScriptedServer(t, frames(9, `{"type":"update","output":"line %d"}`)...)
	var out bytes.Buffer

	report, err := New(testConfig(srv.wsURL(), 300*time.Millisecond), WithPrinter(NewConsolePrinter(&out, false, false))).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, report.State)
	assert.Equal(t, 9, report.Received)
	assert.Equal(t, 9, strings.Count(out.String(), "📥 Received"))
	assert.Contains(t, out.String(), "Timeout waiting for response")
	assert.NotContains(t, out.String(), "completed")
	assert.False(t, report.Completed())
}

func TestRun_TenFramesExhaustsWithoutEleventhWait(t *testing.T) {
	srv := newScriptedServer(t, frames(10, `{"type":"status","status":"step %d"}`)...)
	var out bytes.Buffer

	readTimeout := 3 * time.Second
	start := time.Now()
	report, err := New(testConfig(srv.wsURL(), readTimeout), WithPrinter(NewConsolePrinter(&out, false, false))).Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), readTimeout, "an eleventh wait would run into the read timeout")
	assert.Equal(t, StateExhausted, report.State)
	assert.Equal(t, 10, report.Received)
	assert.Equal(t, 10, strings.Count(out.String(), "📥 Received"))
	assert.NotContains(t, out.String(), "Timeout")
	assert.NotContains(t, out.String(), "completed")

	waits := 0
	for _, s := range report.Trace {
		if s == StateWaiting {
			waits++
		}
	}
	assert.Equal(t, 10, waits)
}

func TestRun_UnreachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	report, err := New(testConfig("ws://"+addr+"/ws/plugins", time.Second)).Run(context.Background())
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ConnectFailed, kind)
	assert.Nil(t, report.Sent)
	assert.Equal(t, "connect_failed", report.Outcome())
}

func TestRun_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(testConfig("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)).Run(context.Background())
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, ConnectFailed, kind)
	assert.Contains(t, err.Error(), "404")
}

func TestRun_PayloadSentOnceWithExactShape(t *testing.T) {
	srv := newScriptedServer(t, `{"type":"result","success":true}`)
	var out bytes.Buffer

	report, err := New(testConfig(srv.wsURL(), time.Second), WithPrinter(NewConsolePrinter(&out, false, false))).Run(context.Background())
	require.NoError(t, err)

	// the server only answers after reading the command, so a reply proves ordering too
	assert.Eventually(t, func() bool { return len(srv.commands()) == 1 }, time.Second, 10*time.Millisecond)
	cmds := srv.commands()
	require.Len(t, cmds, 1)
	assert.JSONEq(t, defaultPayload, string(cmds[0]))
	assert.JSONEq(t, defaultPayload, string(report.Sent))
	assert.Contains(t, out.String(), "📤 Sent: "+string(report.Sent))
}

func TestRun_FailedResultStillCompletes(t *testing.T) {
	srv := newScriptedServer(t,
		`{"type":"connected"}`,
		`{"type":"result","success":false,"status":"error","error":"plugin not found"}`,
	)
	var out bytes.Buffer

	report, err := New(testConfig(srv.wsURL(), time.Second), WithPrinter(NewConsolePrinter(&out, false, false))).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, report.State)
	assert.True(t, report.Completed())
	assert.False(t, report.Succeeded())
	assert.Contains(t, out.String(), "finished with an error: plugin not found")
}

func TestRun_UndecodableFrameFails(t *testing.T) {
	srv := newScriptedServer(t, `{"type":"status"}`, `not json`)
	var out bytes.Buffer

	report, err := New(testConfig(srv.wsURL(), time.Second), WithPrinter(NewConsolePrinter(&out, false, false))).Run(context.Background())
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, DecodeFailed, kind)
	assert.Equal(t, 2, report.Received, "the bad frame is printed and counted before decoding")
	assert.Contains(t, out.String(), "📥 Received [2]: not json")
}

func TestRun_ServerClosesConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		conn.Close()
	}))
	defer srv.Close()

	report, err := New(testConfig("ws"+strings.TrimPrefix(srv.URL, "http"), 2*time.Second)).Run(context.Background())
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, TransportClosed, kind)
	assert.Equal(t, 0, report.Received)
}

func TestRun_ContextCancelUnblocksRead(t *testing.T) {
	srv := newScriptedServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := New(testConfig(srv.wsURL(), 5*time.Second)).Run(ctx)
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, Canceled, kind)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_RecordsMetrics(t *testing.T) {
	srv := newScriptedServer(t, `{"type":"connected"}`, `{"type":"status"}`, `{"type":"result"}`)
	m := metrics.NewProbeMetrics()

	report, err := New(testConfig(srv.wsURL(), time.Second), WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Received)

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range mfs {
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			key := mf.GetName()
			for _, label := range metric.GetLabel() {
				key += "/" + label.GetValue()
			}
			values[key] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, values["sandprobe_frames_received_total"])
	assert.Equal(t, 1.0, values["sandprobe_runs_total/completed"])
	assert.Len(t, report.Latencies, 3)
	assert.Equal(t, 3, report.LatencySummary().Count)
}
