package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/soyeahso/dialdeck/internal/console"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/soyeahso/dialdeck/internal/variables"
	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage calling agents",
	}

	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentShowCmd())
	cmd.AddCommand(newAgentCreateCmd())
	cmd.AddCommand(newAgentUpdateCmd())
	cmd.AddCommand(newAgentDeleteCmd())
	cmd.AddCommand(newAgentRenderCmd())
	cmd.AddCommand(newAgentCatalogCmd())
	return cmd
}

// withConsole opens the app, loads agents and runs fn.
func withConsole(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.console.EnsureAgentsLoaded(ctx); err != nil {
		return fmt.Errorf("loading agents: %s", domain.UserMessage(err, domain.FallbackRequestMessage))
	}
	return fn(a)
}

func newAgentListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd.Context(), func(a *app) error {
				agents := a.console.Agents()
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, agents)
				}
				for _, ag := range agents {
					def := ""
					if ag.IsDefault() {
						def = " (default)"
					}
					fmt.Fprintf(out, "  %-36s %-20s voice=%s lang=%s vars=%d%s\n",
						ag.ID, ag.Name, ag.VoiceID, ag.Language, len(ag.Variables), def)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newAgentShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show details about an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd.Context(), func(a *app) error {
				ag, err := a.console.Agent(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), ag)
				}
				printAgent(cmd.OutOrStdout(), ag)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printAgent(w io.Writer, ag domain.Agent) {
	fmt.Fprintf(w, "ID:        %s\n", ag.ID)
	fmt.Fprintf(w, "Name:      %s\n", ag.Name)
	fmt.Fprintf(w, "Voice:     %s\n", ag.VoiceID)
	fmt.Fprintf(w, "Language:  %s\n", ag.Language)
	if len(ag.Variables) > 0 {
		fmt.Fprintln(w, "Variables:")
		for _, v := range ag.Variables {
			fmt.Fprintf(w, "  {{%s}}", v.Key)
			if v.Description != "" {
				fmt.Fprintf(w, "  %s", v.Description)
			}
			if v.Example != "" {
				fmt.Fprintf(w, "  (e.g. %s)", v.Example)
			}
			fmt.Fprintln(w)
		}
	}
	if missing := undeclared(ag); len(missing) > 0 {
		fmt.Fprintf(w, "Undeclared placeholders: %s\n", strings.Join(missing, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", ag.SystemPrompt)
}

// undeclared lists prompt placeholders with no matching variable definition.
func undeclared(ag domain.Agent) []string {
	declared := make(map[string]bool, len(ag.Variables))
	for _, v := range ag.Variables {
		declared[v.Key] = true
	}
	var out []string
	for _, p := range variables.Placeholders(ag.SystemPrompt) {
		if !declared[p] {
			out = append(out, p)
		}
	}
	return out
}

// agentFlags are the editable agent fields shared by create and update.
type agentFlags struct {
	prompt     string
	promptFile string
	voice      string
	language   string
	vars       []string
	clearVars  bool
}

func (f *agentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "system prompt template")
	cmd.Flags().StringVar(&f.promptFile, "prompt-file", "", "read the system prompt from a file")
	cmd.Flags().StringVar(&f.voice, "voice", "", "voice id")
	cmd.Flags().StringVar(&f.language, "language", "", "language code")
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "variable definition key[:description[:example]] (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")
}

// apply overwrites the fields whose flags were set on cmd.
func (f *agentFlags) apply(cmd *cobra.Command, fields *domain.AgentFields) error {
	changed := cmd.Flags().Changed
	switch {
	case changed("prompt"):
		fields.SystemPrompt = f.prompt
	case changed("prompt-file"):
		data, err := os.ReadFile(f.promptFile)
		if err != nil {
			return fmt.Errorf("reading prompt file: %w", err)
		}
		fields.SystemPrompt = strings.TrimRight(string(data), "\n")
	}
	if changed("voice") {
		fields.VoiceID = f.voice
	}
	if changed("language") {
		fields.Language = f.language
	}
	if f.clearVars {
		fields.Variables = nil
	}
	if changed("var") {
		defs, err := parseVarDefs(f.vars)
		if err != nil {
			return err
		}
		if f.clearVars {
			fields.Variables = defs
		} else {
			fields.Variables = mergeVarDefs(fields.Variables, defs)
		}
	}
	return nil
}

// parseVarDefs parses "key[:description[:example]]" entries. Keys are
// sanitized the same way the store normalizes them.
func parseVarDefs(raw []string) ([]domain.VariableDef, error) {
	defs := make([]domain.VariableDef, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 3)
		key := variables.SanitizeKey(parts[0])
		if key == "" {
			return nil, &domain.ValidationError{Field: "var", Message: fmt.Sprintf("invalid variable %q", r)}
		}
		def := domain.VariableDef{Key: key}
		if len(parts) > 1 {
			def.Description = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			def.Example = strings.TrimSpace(parts[2])
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// mergeVarDefs replaces definitions with the same key in place and appends
// new ones.
func mergeVarDefs(base, add []domain.VariableDef) []domain.VariableDef {
	out := domain.CloneVariables(base)
	for _, d := range add {
		replaced := false
		for i := range out {
			if out[i].Key == d.Key {
				out[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, d)
		}
	}
	return out
}

// parseVarValues parses repeated "key=value" flags.
func parseVarValues(raw []string) (map[string]string, error) {
	values := make(map[string]string, len(raw))
	for _, r := range raw {
		k, v, ok := strings.Cut(r, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, &domain.ValidationError{Field: "var", Message: fmt.Sprintf("expected key=value, got %q", r)}
		}
		values[k] = v
	}
	return values, nil
}

func newAgentCreateCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd.Context(), func(a *app) error {
				fields := domain.AgentFields{}
				if def, err := a.console.Agent(domain.DefaultAgentID); err == nil {
					fields.VoiceID = def.VoiceID
					fields.Language = def.Language
				}
				if err := f.apply(cmd, &fields); err != nil {
					return err
				}
				ag, err := a.console.CreateAgent(cmd.Context(), args[0], fields)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created agent %s (%s)\n", ag.Name, ag.ID)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newAgentUpdateCmd() *cobra.Command {
	var (
		f    agentFlags
		name string
	)
	cmd := &cobra.Command{
		Use:   "update <agent-id>",
		Short: "Update an agent; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd.Context(), func(a *app) error {
				current, err := a.console.Agent(args[0])
				if err != nil {
					return err
				}
				fields := current.Fields()
				if cmd.Flags().Changed("name") {
					fields.Name = name
				}
				if err := f.apply(cmd, &fields); err != nil {
					return err
				}
				ag, err := a.console.SaveAgent(cmd.Context(), current.ID, fields)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated agent %s (%s)\n", ag.Name, ag.ID)
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().BoolVar(&f.clearVars, "clear-vars", false, "drop existing variable definitions first")
	return cmd
}

func newAgentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <agent-id>",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd.Context(), func(a *app) error {
				if err := a.console.DeleteAgent(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted agent %s\n", args[0])
				return nil
			})
		},
	}
}

func newAgentRenderCmd() *cobra.Command {
	var (
		vars   []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "render <agent-id>",
		Short: "Render an agent prompt with variable values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVarValues(vars)
			if err != nil {
				return err
			}
			return withConsole(cmd.Context(), func(a *app) error {
				rendered, err := a.console.RenderPrompt(args[0], values)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), rendered)
				}
				fmt.Fprintln(cmd.OutOrStdout(), rendered.Prompt)
				if len(rendered.Unresolved) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "Unresolved placeholders: %s\n", strings.Join(rendered.Unresolved, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable value key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newAgentCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List available voices and languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd.Context(), func(a *app) error {
				cat := a.console.Catalog()
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Voices:")
				for _, v := range cat.AvailableVoices {
					fmt.Fprintf(out, "  %-10s %-8s %s\n", v.ID, v.Gender, v.Description)
				}
				fmt.Fprintln(out, "Languages:")
				for _, l := range cat.AvailableLanguages {
					fmt.Fprintf(out, "  %-8s %s\n", l.Code, l.Name)
				}
				if a.console.Source() == console.SourceLocal {
					fmt.Fprintln(out, "(local catalog)")
				}
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
