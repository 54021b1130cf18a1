package cli

import (
	"fmt"
	"os"

	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/soyeahso/dialdeck/internal/gateway"
	"github.com/soyeahso/dialdeck/internal/store"
	"github.com/soyeahso/dialdeck/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dialdeck status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dialdeck %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "          not found (using defaults)")
			}
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Backend:  %s (timeout %ds)\n", cfg.Backend.BaseURL, cfg.Backend.TimeoutSeconds)
			fmt.Fprintf(out, "Agents:   source=%s\n", cfg.Agents.Source)
			fmt.Fprintf(out, "Dialer:   countryCode=%s reset=%ds\n", cfg.Dialer.CountryCode, cfg.Dialer.ResetSeconds)
			fmt.Fprintf(out, "Calls:    historyLimit=%d\n", cfg.Calls.HistoryLimit)
			fmt.Fprintf(out, "Gateway:  %s auth=%s tls=%v\n",
				gateway.ResolveBindAddr(cfg.Gateway), cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)
			if cfg.Telemetry.Enabled {
				fmt.Fprintf(out, "Traces:   %s\n", cfg.Telemetry.OTLPEndpoint)
			}

			dbPath := paths.DatabasePath(cfg)
			if _, err := os.Stat(dbPath); err == nil {
				if db, err := store.Open(dbPath, log); err == nil {
					v, _ := db.SchemaVersion()
					n, _ := store.NewAgentRepo(db).Count()
					fmt.Fprintf(out, "Store:    %s (schema v%d, %d local agents)\n", dbPath, v, n)
					db.Close()
				} else {
					fmt.Fprintf(out, "Store:    %s (error: %v)\n", dbPath, err)
				}
			} else {
				fmt.Fprintf(out, "Store:    %s (not created)\n", dbPath)
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
