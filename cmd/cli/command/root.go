package command

// root.go defines the root command for the sandprobe CLI.
// global flags, configuration and logging are set up here.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sandprobe/internal/config"
	"sandprobe/internal/logging"
	"sandprobe/internal/probe"
)

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	cfgFile   string // YAML config file path
	logLevel  string
	logFormat string
	noColor   bool
	pretty    bool

	cfg *config.Config // loaded before any subcommand runs
}

// NewRootCommand builds the sandprobe command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "sandprobe",
		Short: "sandprobe - diagnostic probe for the plugin execution WebSocket",
		Long: `sandprobe connects to a plugin execution WebSocket endpoint, sends one command
and prints what comes back. It stops at the first "result" frame, after a number of
frames, or when the server stays silent for the read timeout.

Settings come from a YAML file (--config), SANDPROBE_* environment variables (or a .env
file) and flags, in increasing order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("could not load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = opts.logFormat
			}
			if _, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "YAML config file path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "indent JSON frames")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newSubscribeCommand(opts))
	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		printCommandError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// printCommandError prints err to w unless the console already showed it
func printCommandError(w io.Writer, err error) {
	var reported reportedError
	if errors.As(err, &reported) {
		return
	}
	fmt.Fprintln(w, err) // Print error to standard error
}

// printer returns the console printer for cmd's output stream
func (o *globalOptions) printer(cmd *cobra.Command) *probe.ConsolePrinter {
	return probe.NewConsolePrinter(cmd.OutOrStdout(), o.colored(cmd), o.pretty)
}

// colored is true only for a color-capable stdout
func (o *globalOptions) colored(cmd *cobra.Command) bool {
	return !o.noColor && !color.NoColor && cmd.OutOrStdout() == os.Stdout
}
