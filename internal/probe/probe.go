package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sandprobe/internal/config"
	"sandprobe/internal/metrics"
	"sandprobe/internal/protocol"
)

// closeGrace bounds the close handshake frame written on release
const closeGrace = time.Second

// Probe sends one command to a WebSocket endpoint and watches the replies
type Probe struct {
	url         string
	command     protocol.Command
	readTimeout time.Duration
	dialTimeout time.Duration
	maxMessages int

	dial    DialFunc
	printer Printer
	metrics *metrics.ProbeMetrics
	logger  *slog.Logger
}

type Option func(*Probe)

func WithDialer(dial DialFunc) Option {
	return func(p *Probe) { p.dial = dial }
}

func WithPrinter(printer Printer) Option {
	return func(p *Probe) { p.printer = printer }
}

func WithMetrics(m *metrics.ProbeMetrics) Option {
	return func(p *Probe) { p.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Probe) { p.logger = logger }
}

// WithCommand replaces the command built from the configuration
func WithCommand(cmd protocol.Command) Option {
	return func(p *Probe) { p.command = cmd }
}

// New builds a probe from cfg. Unless WithCommand is given, the outbound frame is
// cfg.Command with the configured plugin id, parameters and timeout hint.
func New(cfg *config.Config, opts ...Option) *Probe {
	cmd := protocol.NewExecuteCommand(cfg.PluginID, cfg.Parameters, cfg.TimeoutHint)
	cmd.Command = cfg.Command

	p := &Probe{
		url:         cfg.URL,
		command:     cmd,
		readTimeout: cfg.ReadTimeout,
		dialTimeout: cfg.DialTimeout,
		maxMessages: cfg.MaxMessages,
		dial:        WebsocketDialer(),
		printer:     NewConsolePrinter(io.Discard, false, false),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one probe: connect, send the command once, then receive until a result
// frame, the frame limit, or a read timeout. The connection is released exactly once on
// every path. The returned report is never nil; err is a *Error when the run failed.
func (p *Probe) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{RunID: uuid.NewString(), URL: p.url, State: StateWaiting}
	logger := p.logger.With("run_id", report.RunID, "url", p.url)
	start := time.Now()

	defer func() {
		report.Duration = time.Since(start)
		report.Err = err
		p.record(logger, report)
	}()

	logger.Debug("dialing endpoint", "dial_timeout", p.dialTimeout)
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	conn, dialErr := p.dial(dialCtx, p.url)
	cancel()
	if dialErr != nil {
		return report, newError(ConnectFailed, dialErr)
	}
	defer p.release(logger, conn)
	p.printer.Connected(p.url)

	payload, encErr := protocol.Encode(p.command)
	if encErr != nil {
		return report, newError(SendFailed, encErr)
	}
	if writeErr := conn.WriteMessage(websocket.TextMessage, payload); writeErr != nil {
		return report, newError(SendFailed, writeErr)
	}
	sentAt := time.Now()
	report.Sent = payload
	p.printer.Sent(payload)
	logger.Debug("command sent", "command", p.command.Name(), "bytes", len(payload))

	// a canceled context unblocks a pending read by expiring its deadline
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	return report, p.receive(ctx, conn, report, sentAt)
}

// receive runs the bounded receive loop, starting in StateWaiting
func (p *Probe) receive(ctx context.Context, conn Conn, report *Report, sentAt time.Time) error {
	for report.Received < p.maxMessages {
		report.transition(StateWaiting)

		if err := conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			return newError(TransportClosed, err)
		}
		if err := ctx.Err(); err != nil {
			return newError(Canceled, err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return newError(Canceled, ctxErr)
			}
			if isTimeout(err) {
				report.transition(StateTimedOut)
				p.printer.TimedOut(p.readTimeout)
				return nil
			}
			return newError(TransportClosed, err)
		}

		report.transition(StateReceived)
		report.Received++
		report.Latencies = append(report.Latencies, time.Since(sentAt))
		if p.metrics != nil {
			p.metrics.FrameReceived()
			if report.Received == 1 {
				p.metrics.FirstFrame(report.Latencies[0])
			}
		}
		p.printer.Received(report.Received, data)

		msg, err := protocol.Decode(data)
		if err != nil {
			return newError(DecodeFailed, err)
		}
		if msg.IsCompletion() {
			report.Result = msg
			report.transition(StateCompleted)
			p.printer.Completed(msg)
			return nil
		}
	}

	report.transition(StateExhausted)
	return nil
}

// release sends a best-effort close frame and closes the connection
func (p *Probe) release(logger *slog.Logger, conn Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
		logger.Debug("close frame not sent", "error", err)
	}
	if err := conn.Close(); err != nil {
		logger.Debug("close failed", "error", err)
	}
}

func (p *Probe) record(logger *slog.Logger, report *Report) {
	outcome := report.Outcome()
	if p.metrics != nil {
		p.metrics.RunFinished(outcome, report.Duration)
	}
	if report.Err != nil {
		logger.Warn("probe failed", "outcome", outcome, "received", report.Received, "error", report.Err)
		return
	}
	logger.Info("probe finished", "outcome", outcome, "received", report.Received, "duration", report.Duration)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
