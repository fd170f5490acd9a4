package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/flightlogic/internal/config"
	"github.com/me/flightlogic/internal/logging"
)

var (
	flagConfig    string
	flagDB        string
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg      config.Config
	logLevel = new(slog.LevelVar)
	logger   *slog.Logger
)

// defaultServer returns the status API URL, checking FLIGHTLOGIC_SERVER first.
func defaultServer() string {
	if s := os.Getenv("FLIGHTLOGIC_SERVER"); s != "" {
		return s
	}
	return ""
}

// NewRootCmd creates the root cobra command for the flightlogic binary.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flightlogic",
		Short: "Flight task scheduler",
		Long:  "flightlogic runs the on-board task scheduler and inspects its persisted state.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(flagConfig); err != nil {
				return err
			}
			applyFlags(cmd)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logLevel.Set(logging.ParseLevel(cfg.Log.Level))
			logger = logging.NewLoggerWithWriter(logLevel, cfg.Log.Format, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "Database path (default ~/.flightlogic/flightlogic.db)")
	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Status API URL for 'status' (or FLIGHTLOGIC_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newTasksCmd(),
		newLogsCmd(),
		newPluginsCmd(),
		newStatusCmd(),
	)

	return root
}

// applyFlags overrides file settings with explicitly set flags.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = flagDB
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	if flagDebug {
		cfg.Log.Level = "debug"
	}
}
