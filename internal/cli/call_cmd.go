package cli

import (
	"errors"
	"fmt"

	"github.com/soyeahso/dialdeck/internal/console"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	var (
		agentID string
		vars    []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "call <number>",
		Short: "Place an outbound call",
		Long: "Place an outbound call with the given agent. A bare ten-digit number " +
			"gets the configured country code prepended.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVarValues(vars)
			if err != nil {
				return err
			}

			return withConsole(cmd.Context(), func(a *app) error {
				res, err := a.console.PlaceCall(cmd.Context(), console.CallParams{
					Number:  args[0],
					AgentID: agentID,
					Values:  values,
				})
				if err != nil {
					return errors.New(domain.UserMessage(err, domain.FallbackCallMessage))
				}

				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Call started: %s -> %s (agent %s)\n",
					res.CallSID, res.Request.ToNumber, res.Request.AgentID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent id (default agent when empty)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable value key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
