package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soyeahso/dialdeck/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set configuration values",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigValidateCmd())

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}

			return printValue(cmd.OutOrStdout(), val)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			value := parseValue(args[1])
			config.SetValueAtPath(raw, path, value)

			if err := config.SaveRaw(paths.Config, raw); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			if !config.UnsetValueAtPath(raw, path) {
				return fmt.Errorf("key %q not found", args[0])
			}

			if err := config.SaveRaw(paths.Config, raw); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			issues := config.Validate(&cfg)
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "config OK")
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return fmt.Errorf("%d validation issue(s)", len(issues))
		},
	}
}

// printValue outputs a value in a human-readable format.
func printValue(w io.Writer, v any) error {
	switch val := v.(type) {
	case string:
		fmt.Fprintln(w, val)
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return err
		}
		fmt.Fprint(w, string(data))
	default:
		fmt.Fprintln(w, val)
	}
	return nil
}

// parseValue interprets a command-line string as a bool, int, float or
// string, in that order. Numbers only convert when they print back the same,
// so values like "+57" or "0300" stay strings.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil && strconv.Itoa(n) == s {
		return n
	}
	if strings.Contains(s, ".") && !strings.HasPrefix(s, "+") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
