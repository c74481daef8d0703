package mockserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"sandprobe/internal/protocol"
)

// PluginPath is where the plugin execution socket is served
const PluginPath = "/ws/plugins"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// allow all origins, this server only exists for local probing
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server emulates the sandcrate plugin execution socket
type Server struct {
	engine    *gin.Engine
	catalog   Catalog
	frameRate rate.Limit
	logger    *slog.Logger
	sessions  *sessionRegistry
	http      *http.Server
}

// New builds a server. frameRate is the number of update frames per second a
// plugin run emits (unlimited when not positive); the first frame goes out immediately.
func New(catalog Catalog, frameRate float64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(frameRate)
	if frameRate <= 0 {
		limit = rate.Inf
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:    gin.New(),
		catalog:   catalog,
		frameRate: limit,
		logger:    logger,
		sessions:  newSessionRegistry(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.GET(PluginPath, WSHandler(s))
	s.engine.GET("/health", s.health)
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, for httptest and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops; a Shutdown is not an error
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mock plugin server: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("mock plugin server listening", "addr", ln.Addr().String(), "path", PluginPath, "plugins", s.catalog.IDs())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mock plugin server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked WebSocket connections are not tracked by it.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// WSHandler: handle upgrade request from HTTP connection to WebSocket
func WSHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		cl := newClient(uuid.NewString(), conn, s)
		cl.logger.Info("client connected", "remote", c.Request.RemoteAddr)

		go cl.WritePump()
		cl.SendMessage(protocol.NewConnected())
		go cl.ReadPump()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"plugins": s.catalog.IDs(),
	})
}

// execute runs one plugin for a client: a status frame, paced update frames,
// then a result frame. A timeout hint from the command bounds the run.
// Subscribers to the session get the same frames as the client that started it.
func (s *Server) execute(cl *client, cmd *incomingCommand) {
	sess := s.sessions.start(uuid.NewString(), cmd.PluginID, cl)
	defer s.sessions.end(sess.ID)
	logger := cl.logger.With("session_id", sess.ID, "plugin_id", cmd.PluginID)

	if sess.Broadcast(protocol.NewStatus(sess.ID, cmd.PluginID, "starting", "Plugin execution started")) == 0 {
		return
	}

	lines, ok := s.catalog[cmd.PluginID]
	if !ok {
		logger.Info("unknown plugin")
		sess.Broadcast(protocol.NewResult(sess.ID, cmd.PluginID, "", "plugin not found: "+cmd.PluginID))
		return
	}

	ctx := cl.ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Millisecond)
		defer cancel()
	}

	limiter := rate.NewLimiter(s.frameRate, 1)
	output := make([]string, 0, len(lines))
	for _, line := range lines {
		if err := limiter.Wait(ctx); err != nil {
			if cl.ctx.Err() != nil {
				logger.Debug("client gone, abandoning run")
				return
			}
			sess.Broadcast(protocol.NewResult(sess.ID, cmd.PluginID, "",
				fmt.Sprintf("plugin execution timed out after %dms", cmd.Timeout)))
			return
		}
		line = render(line, cmd.Parameters)
		output = append(output, line)
		if sess.Broadcast(protocol.NewUpdate(sess.ID, cmd.PluginID, line)) == 0 {
			return
		}
	}

	logger.Info("plugin run completed", "lines", len(output), "watchers", sess.ClientCount())
	sess.Broadcast(protocol.NewResult(sess.ID, cmd.PluginID, strings.Join(output, "\n"), ""))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
