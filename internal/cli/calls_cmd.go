package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/soyeahso/dialdeck/internal/analytics"
	"github.com/soyeahso/dialdeck/internal/domain"
	"github.com/spf13/cobra"
)

func newCallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect call history",
	}

	cmd.AddCommand(newCallsListCmd())
	cmd.AddCommand(newCallsSummaryCmd())
	cmd.AddCommand(newCallsTranscriptCmd())
	cmd.AddCommand(newCallsRecordingCmd())
	cmd.AddCommand(newCallsAttemptsCmd())
	return cmd
}

func newCallsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit > 0 {
				cfg.Calls.HistoryLimit = limit
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.console.RefreshCalls(cmd.Context()); err != nil {
				return fmt.Errorf("loading calls: %s", domain.UserMessage(err, domain.FallbackRequestMessage))
			}
			calls := a.console.Calls()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, calls)
			}
			if len(calls) == 0 {
				fmt.Fprintln(out, "No calls.")
				return nil
			}
			for _, c := range calls {
				fmt.Fprintf(out, "  %-34s %-12s %-16s %6s  %s  %s\n",
					c.SID, c.Status, c.To,
					formatDuration(analytics.ParseIntOrZero(c.Duration)),
					analytics.RowCost(c).StringFixed(4),
					deref(c.StartTime))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of calls to fetch (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCallsSummaryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize recent calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.console.RefreshCalls(cmd.Context()); err != nil {
				return fmt.Errorf("loading calls: %s", domain.UserMessage(err, domain.FallbackRequestMessage))
			}
			s := a.console.CallSummary()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			printSummary(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printSummary(w io.Writer, s analytics.Summary) {
	fmt.Fprintf(w, "Calls:     %d\n", s.TotalCalls)
	fmt.Fprintf(w, "Duration:  %s\n", formatDuration(s.TotalDurationSeconds))
	fmt.Fprintf(w, "Cost:      %s\n", s.TotalCost.StringFixed(4))
	if len(s.Statuses) > 0 {
		fmt.Fprintln(w, "Statuses:")
		for _, sc := range s.Statuses {
			fmt.Fprintf(w, "  %-12s %d\n", sc.Status, sc.Count)
		}
	}
}

func newCallsTranscriptCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "transcript <call-sid>",
		Short: "Print a call transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.console.Transcript(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading transcript: %s", domain.UserMessage(err, domain.FallbackRequestMessage))
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			printTranscript(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printTranscript(w io.Writer, entries []domain.TranscriptEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No transcript.")
		return
	}
	start := entries[0].Timestamp
	for _, e := range entries {
		who := "Caller"
		if e.IsAssistant() {
			who = "Agent"
		}
		if off := e.Offset(start); off != "" {
			fmt.Fprintf(w, "%s %-6s %s\n", off, who, e.Content)
		} else {
			fmt.Fprintf(w, "%-6s %s\n", who, e.Content)
		}
	}
}

func newCallsRecordingCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "recording <call-sid>",
		Short: "Download a call recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.console.Recording(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading recording: %s", domain.UserMessage(err, domain.FallbackRequestMessage))
			}
			defer rec.Body.Close()

			if output == "" {
				output = args[0] + extensionFor(rec.ContentType)
			}
			var dst io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			n, err := io.Copy(dst, rec.Body)
			if err != nil {
				return fmt.Errorf("writing recording: %w", err)
			}
			if output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d bytes to %s\n", n, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default <sid>.<ext>)")
	return cmd
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return ".wav"
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	default:
		return ".mp3"
	}
}

func newCallsAttemptsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List call attempts made from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			attempts, err := a.attempts.Recent(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, attempts)
			}
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No attempts.")
				return nil
			}
			for _, at := range attempts {
				detail := at.CallSID
				if at.Error != "" {
					detail = at.Error
				}
				fmt.Fprintf(out, "  %s  %-10s %-16s agent=%s  %s\n",
					at.CreatedAt.Local().Format("2006-01-02 15:04:05"), at.Status, at.ToNumber, at.AgentID, detail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of attempts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// formatDuration renders seconds as "1h02m03s", "2m05s" or "42s".
func formatDuration(secs int64) string {
	h, m, s := secs/3600, secs%3600/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
