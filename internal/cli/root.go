package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/cmdbase/internal/config"
	"github.com/me/cmdbase/internal/logging"
)

var (
	flagConfig    string
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
	client *Client
)

// defaultServer returns the default dashboard URL, checking CMDBASE_SERVER first.
func defaultServer() string {
	if s := os.Getenv("CMDBASE_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the cmdbase CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cmdbase",
		Short: "cmdbase: cooperative command scheduler for periodic control loops",
		Long: `cmdbase runs robot scenarios on a command scheduler: resources, tasks
and triggers declared in YAML, ticked at a fixed period, either simulated
or in real time behind an HTTP dashboard.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				loaded.Log.Level = flagLogLevel
			}
			if flags.Changed("log-format") {
				loaded.Log.Format = flagLogFormat
			}
			if flagDebug {
				loaded.Log.Level = "debug"
			}
			if err := logging.ValidateFormat(loaded.Log.Format); err != nil {
				return err
			}
			cfg = loaded
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (YAML); CMDBASE_* env vars override it")
	pf.StringVar(&flagServer, "server", defaultServer(), "Dashboard URL for remote commands (or CMDBASE_SERVER env)")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newValidateCmd(),
		newEventsCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newModeCmd(),
	)

	return root
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		return fmt.Errorf("cmdbase: %w", err)
	}
	return nil
}
