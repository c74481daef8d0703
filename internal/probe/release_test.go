package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandprobe/internal/config"
	"sandprobe/internal/protocol"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeConn replays frames, then returns readErr (a read timeout when nil)
type fakeConn struct {
	mu       sync.Mutex
	frames   []string
	readErr  error
	writeErr error

	calls  []string
	writes [][]byte
	closes int
}

func (c *fakeConn) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.record("write")
	if c.writeErr != nil {
		return c.writeErr
	}
	c.mu.Lock()
	c.writes = append(c.writes, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.record("control")
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.record("read")
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) > 0 {
		f := c.frames[0]
		c.frames = c.frames[1:]
		return websocket.TextMessage, []byte(f), nil
	}
	if c.readErr != nil {
		return 0, nil, c.readErr
	}
	return 0, nil, timeoutError{}
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.record("deadline")
	return nil
}

func (c *fakeConn) Close() error {
	c.record("close")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func fakeDialer(conn *fakeConn) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		return conn, nil
	}
}

func repeat(n int, frame string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

func TestRun_ReleasesConnectionExactlyOnce(t *testing.T) {
	tests := []struct {
		name     string
		conn     *fakeConn
		state    State
		wantKind ErrorKind
	}{
		{name: "completed", conn: &fakeConn{frames: []string{`{"type":"result"}`}}, state: StateCompleted},
		{name: "timed out", conn: &fakeConn{frames: repeat(3, `{"type":"update"}`)}, state: StateTimedOut},
		{name: "exhausted", conn: &fakeConn{frames: repeat(12, `{"type":"update"}`)}, state: StateExhausted},
		{name: "decode failed", conn: &fakeConn{frames: []string{`oops`}}, wantKind: DecodeFailed},
		{name: "transport closed", conn: &fakeConn{readErr: errors.New("connection reset")}, wantKind: TransportClosed},
		{name: "send failed", conn: &fakeConn{writeErr: errors.New("broken pipe")}, wantKind: SendFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := New(config.Default(), WithDialer(fakeDialer(tt.conn))).Run(context.Background())

			if tt.wantKind != 0 {
				require.Error(t, err)
				kind, ok := KindOf(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantKind, kind)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.state, report.State)
			}

			assert.Equal(t, 1, tt.conn.closes)
			assert.Equal(t, "close", tt.conn.calls[len(tt.conn.calls)-1])
		})
	}
}

func TestRun_SendsBeforeFirstRead(t *testing.T) {
	conn := &fakeConn{frames: []string{`{"type":"connected"}`, `{"type":"result"}`}}

	report, err := New(config.Default(), WithDialer(fakeDialer(conn))).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, report.State)

	assert.Equal(t,
		[]string{"write", "deadline", "read", "deadline", "read", "control", "close"},
		conn.calls)
	require.Len(t, conn.writes, 1)
	assert.JSONEq(t, defaultPayload, string(conn.writes[0]))
}

func TestRun_ExhaustedStopsAtMaxMessages(t *testing.T) {
	conn := &fakeConn{frames: repeat(12, `{"type":"update"}`)}
	cfg := config.Default()
	cfg.MaxMessages = 3

	report, err := New(cfg, WithDialer(fakeDialer(conn))).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, report.State)
	assert.Equal(t, 3, report.Received)
	assert.Len(t, conn.frames, 9, "frames past the limit are never read")
}

func TestRun_DialErrorNeverReleases(t *testing.T) {
	dial := func(ctx context.Context, url string) (Conn, error) {
		return nil, errors.New("connection refused")
	}

	report, err := New(config.Default(), WithDialer(dial)).Run(context.Background())
	require.Error(t, err)

	kind, _ := KindOf(err)
	assert.Equal(t, ConnectFailed, kind)
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, report.Trace)
}

func TestRun_DialHonorsDialTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.DialTimeout = 50 * time.Millisecond

	dial := func(ctx context.Context, url string) (Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	_, err := New(cfg, WithDialer(dial)).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_CustomCommand(t *testing.T) {
	conn := &fakeConn{frames: []string{`{"type":"subscribed","session_id":"s-1"}`, `{"type":"result"}`}}

	_, err := New(config.Default(), WithDialer(fakeDialer(conn)), WithCommand(protocol.NewSubscribeCommand("s-1"))).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, conn.writes, 1)
	assert.JSONEq(t, `{"command":"subscribe","session_id":"s-1"}`, string(conn.writes[0]))
}

func TestRun_MistypedFieldsDoNotFailDecoding(t *testing.T) {
	tests := []struct {
		name      string
		frames    []string
		state     State
		received  int
		succeeded bool
	}{
		{
			name:     "object output then silence",
			frames:   []string{`{"type":"update","output":{"line":1}}`},
			state:    StateTimedOut,
			received: 1,
		},
		{
			name:     "numeric type is not completion",
			frames:   []string{`{"type":5}`, `{"type":["result"]}`},
			state:    StateTimedOut,
			received: 2,
		},
		{
			name:      "string success still completes",
			frames:    []string{`{"type":"update"}`, `{"type":"result","success":"true"}`},
			state:     StateCompleted,
			received:  2,
			succeeded: true,
		},
		{
			name:     "object error completes as failed",
			frames:   []string{`{"type":"result","error":{"code":500}}`},
			state:    StateCompleted,
			received: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{frames: tt.frames}

			report, err := New(config.Default(), WithDialer(fakeDialer(conn))).Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.state, report.State)
			assert.Equal(t, tt.received, report.Received)
			assert.Equal(t, tt.succeeded, report.Succeeded())
			assert.Equal(t, 1, conn.closes)
		})
	}
}
