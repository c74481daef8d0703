package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn the probe uses
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a connection to url. The context bounds the handshake.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebsocketDialer returns a DialFunc backed by gorilla/websocket
func WebsocketDialer() DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("%w (HTTP %s)", err, resp.Status)
			}
			return nil, err
		}
		return conn, nil
	}
}
