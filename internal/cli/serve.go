package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/gateway"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the console API and WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if err := validateConfig(&cfg); err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating directories: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			// A backend outage at startup is not fatal; clients can reload later.
			if err := a.console.EnsureAgentsLoaded(ctx); err != nil {
				log.Warn().Str("error", domain.UserMessage(err, domain.FallbackRequestMessage)).Msg("initial agent load failed")
			}

			srv := gateway.New(cfg.Gateway, a.console, log, gateway.WithHooks(a.hooks))
			log.Info().
				Str("addr", gateway.ResolveBindAddr(cfg.Gateway)).
				Str("backend", a.backend.BaseURL()).
				Str("source", a.console.Source()).
				Msg("starting gateway")

			if err := srv.Start(ctx); err != nil {
				return err
			}
			log.Info().Msg("gateway stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	return cmd
}
