package mockserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"sandprobe/internal/protocol"
)

const ( // ping pong(2-way heartbeat) to keep connection alive
	WriteWait      = 10 * time.Second    // max time write a message to the peer
	PongWait       = 60 * time.Second    // max time to wait for pong from peer => no pong = no connection
	PingPeriod     = (PongWait * 9) / 10 // send pings before pong wait expires
	MaxMessageSize = 64 * 1024           // maximum command size allowed from peer
	sendBuffer     = 64                  // outbound frames queued per client
)

// client is one probe connection. Executions run in their own goroutines and
// queue frames on send; only WritePump writes to the socket.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	logger *slog.Logger

	ctx    context.Context // canceled when the connection goes away
	cancel context.CancelFunc
}

func newClient(id string, conn *websocket.Conn, server *Server) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: server,
		logger: server.logger.With("client_id", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// incomingCommand is the union of the commands the server understands
type incomingCommand struct {
	Command    string         `json:"command"`
	PluginID   string         `json:"plugin_id"`
	Parameters map[string]any `json:"parameters"`
	Timeout    int64          `json:"timeout"`
	SessionID  string         `json:"session_id"`
}

// ReadPump reads commands until the connection fails, then cancels the client
func (c *client) ReadPump() {
	defer func() {
		c.server.sessions.leave(c)
		c.cancel()
		c.conn.Close()
		c.logger.Info("client disconnected")
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("unexpected close", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var cmd incomingCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			// frames that are not commands are ignored
			c.logger.Debug("ignoring undecodable frame", "error", err)
			continue
		}
		c.dispatch(&cmd)
	}
}

// WritePump drains send and keeps the peer alive with pings
func (c *client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(WriteWait))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("write failed", "error", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// SendMessage queues a frame; false once the client is gone
func (c *client) SendMessage(msg *protocol.Inbound) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal frame", "type", msg.Type, "error", err)
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *client) dispatch(cmd *incomingCommand) {
	switch cmd.Command {
	case protocol.CommandExecutePlugin:
		if cmd.PluginID == "" {
			c.SendMessage(protocol.NewError("execute_plugin requires plugin_id"))
			return
		}
		go c.server.execute(c, cmd)
	case protocol.CommandSubscribe:
		if cmd.SessionID == "" {
			c.SendMessage(protocol.NewError("subscribe requires session_id"))
			return
		}
		// acknowledged even for sessions that are not running, frames follow only for live ones
		if !c.SendMessage(protocol.NewSubscribed(cmd.SessionID)) {
			return
		}
		if !c.server.sessions.join(cmd.SessionID, c) {
			c.logger.Debug("subscribe to unknown session", "session_id", cmd.SessionID)
		}
	default:
		c.SendMessage(protocol.NewError("Unknown command: " + cmd.Command))
	}
}
