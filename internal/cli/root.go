package cli

import (
	"io"

	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/soyeahso/dialdeck/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded by the root pre-run
	paths     config.Paths
	cfg       config.Config
	log       *logging.Logger
	logCloser io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dialdeck",
		Short: "dialdeck: operator console for a voice-calling assistant",
		Long: "dialdeck manages calling agents, places outbound calls through the voice " +
			"backend and summarizes call history.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			if err := config.LoadDotEnv(".env", paths.DotEnv); err != nil {
				return err
			}
			cfg, err = config.Load(paths.Config)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			log, logCloser, err = logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.dialdeck/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newCallCmd())
	cmd.AddCommand(newCallsCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
