package command

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sandprobe/internal/config"
	"sandprobe/internal/metrics"
	"sandprobe/internal/probe"
	"sandprobe/internal/protocol"
)

// runOptions holds the flags of the run command
type runOptions struct {
	url         string
	command     string
	pluginID    string
	params      string // JSON object
	timeoutMS   int64
	readTimeout string
	maxMessages int
	metricsFile string
	strict      bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send one execute_plugin command and print the replies",
		Long: `Connect to the endpoint, send one execute_plugin command and print every frame
that comes back.

The probe stops when:
1. A frame with type "result" arrives
2. The frame limit (--max-messages) is reached
3. No frame arrives within the read timeout

Connection and protocol errors are printed, and the command still exits 0 unless --strict is set.`,
		Example: `  sandprobe run
  sandprobe run --url ws://localhost:3000/ws/plugins --plugin plugin_hello --params '{"test":"data"}'
  sandprobe run --read-timeout 2s --max-messages 3 --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := global.cfg
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runProbe(cmd, global, cfg, opts.metricsFile, opts.strict)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "WebSocket endpoint (ws:// or wss://)")
	cmd.Flags().StringVar(&opts.command, "command", "", "command name to send")
	cmd.Flags().StringVar(&opts.pluginID, "plugin", "", "plugin id to execute")
	cmd.Flags().StringVar(&opts.params, "params", "", "plugin parameters as a JSON object")
	cmd.Flags().Int64Var(&opts.timeoutMS, "timeout-ms", 0, "execution timeout hint sent to the server, in milliseconds")
	cmd.Flags().StringVar(&opts.readTimeout, "read-timeout", "", "how long to wait for each frame (e.g. 5s)")
	cmd.Flags().IntVar(&opts.maxMessages, "max-messages", 0, "maximum number of frames to receive")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus text metrics to this file")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit non-zero when the probe fails or ends without a result")
	return cmd
}

// apply copies the flags the user set onto cfg
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = o.url
	}
	if flags.Changed("command") {
		cfg.Command = o.command
	}
	if flags.Changed("plugin") {
		cfg.PluginID = o.pluginID
	}
	if flags.Changed("params") {
		params, err := config.ParseParameters(o.params)
		if err != nil {
			return fmt.Errorf("--params: %w", err)
		}
		cfg.Parameters = params
	}
	if flags.Changed("timeout-ms") {
		cfg.TimeoutHint = o.timeoutMS
	}
	if flags.Changed("read-timeout") {
		d, err := time.ParseDuration(o.readTimeout)
		if err != nil {
			return fmt.Errorf("--read-timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if flags.Changed("max-messages") {
		cfg.MaxMessages = o.maxMessages
	}
	if !flags.Changed("metrics-file") {
		o.metricsFile = cfg.MetricsFile
	}
	return nil
}

func newSubscribeCommand(global *globalOptions) *cobra.Command {
	var (
		sessionID   string
		url         string
		readTimeout string
		strict      bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to an existing plugin session and print its frames",
		Long: `Send a subscribe command for a session id and print what the server pushes back,
with the same stop conditions as run.`,
		Example: `  sandprobe subscribe --session 0b7e4c1e-3a0f-4d43-9a38-5f8e2b1f7c55`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return errors.New("--session must not be empty")
			}
			cfg := global.cfg
			if cmd.Flags().Changed("url") {
				cfg.URL = url
			}
			if cmd.Flags().Changed("read-timeout") {
				d, err := time.ParseDuration(readTimeout)
				if err != nil {
					return fmt.Errorf("--read-timeout: %w", err)
				}
				cfg.ReadTimeout = d
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runProbe(cmd, global, cfg, cfg.MetricsFile, strict, probe.WithCommand(protocol.NewSubscribeCommand(sessionID)))
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to subscribe to (required)")
	cmd.Flags().StringVar(&url, "url", "", "WebSocket endpoint (ws:// or wss://)")
	cmd.Flags().StringVar(&readTimeout, "read-timeout", "", "how long to wait for each frame (e.g. 5s)")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the probe fails or ends without a result")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// runProbe runs one probe and prints its outcome. Probe errors are reported on the
// console and swallowed unless strict is set.
func runProbe(cmd *cobra.Command, global *globalOptions, cfg *config.Config, metricsFile string, strict bool, extra ...probe.Option) error {
	printer := global.printer(cmd)
	m := metrics.NewProbeMetrics()

	opts := append([]probe.Option{
		probe.WithPrinter(printer),
		probe.WithMetrics(m),
		probe.WithLogger(slog.Default()),
	}, extra...)

	report, err := probe.New(cfg, opts...).Run(cmd.Context())
	if err != nil {
		printer.Error(err)
	}
	printSummary(cmd.OutOrStdout(), report, global.colored(cmd))

	if metricsFile != "" {
		if werr := m.WriteTextfile(metricsFile); werr != nil {
			printer.Error(fmt.Errorf("writing metrics: %w", werr))
		} else {
			slog.Debug("metrics written", "path", metricsFile)
		}
	}

	if !strict {
		return nil
	}
	switch {
	case err != nil:
		return reportedError{err}
	case !report.Completed():
		return fmt.Errorf("probe ended %s without a result", report.State)
	case !report.Succeeded():
		return errors.New("plugin execution reported an error")
	}
	return nil
}

// reportedError is an error the console printer has already shown
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }

func (e reportedError) Unwrap() error { return e.err }

// printSummary prints frame count and latency figures when any frame arrived
func printSummary(w io.Writer, report *probe.Report, colored bool) {
	if report.Received == 0 {
		return
	}
	c := color.New(color.FgHiBlack)
	if !colored {
		c.DisableColor()
	}
	s := report.LatencySummary()
	c.Fprintf(w, "📊 %d frame(s) in %s, latency mean %s, median %s, max %s\n",
		report.Received, ms(report.Duration), ms(s.Mean), ms(s.Median), ms(s.Max))
}

func ms(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
