package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autotriage/internal/ci"
	"github.com/lucasnoah/autotriage/internal/ciwatch"
	"github.com/lucasnoah/autotriage/internal/config"
)

var ciCmd = &cobra.Command{
	Use:   "ci",
	Short: "Classify CI failures and run the self-healing watcher",
}

var ciWatchCmd = &cobra.Command{
	Use:   "watch <owner/repo>",
	Short: "Check open PRs for failed CI and retry or re-queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		loop, _ := cmd.Flags().GetBool("loop")
		owner, repo, err := parseRepo(args[0])
		if err != nil {
			return err
		}

		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		w := rt.watcher()
		interval := config.Duration(rt.cfg.CI.PollInterval, 5*time.Minute)
		for {
			reports, err := w.Run(cmd.Context(), owner, repo)
			if err != nil {
				if loop && cmd.Context().Err() == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "ci watch: %v\n", err)
				} else {
					return err
				}
			}
			if err := printReports(cmd.OutOrStdout(), format, reports); err != nil {
				return err
			}
			if !loop {
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(interval):
			}
		}
	},
}

var ciClassifyCmd = &cobra.Command{
	Use:   "classify [log-file]",
	Short: "Classify a CI log and show the retry decision",
	Long:  "Classify a failed CI log (from a file, or stdin when no file is given).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		attempts, _ := cmd.Flags().GetInt("attempts")

		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("reading log: %w", err)
		}

		outcome := ci.Classify(ci.ParseLog(string(data)))
		decision := ci.Decide(outcome, attempts)
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), struct {
				Outcome  *ci.Outcome `json:"outcome"`
				Decision ci.Decision `json:"decision"`
			}{outcome, decision})
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Category:\t%s\n", outcome.Category)
		fmt.Fprintf(w, "Failing tests:\t%v\n", outcome.FailingTests)
		fmt.Fprintf(w, "Failing files:\t%v\n", outcome.FailingFiles)
		fmt.Fprintf(w, "Retry:\t%v\n", decision.ShouldRetry)
		fmt.Fprintf(w, "Route:\t%s\n", decision.Route)
		fmt.Fprintf(w, "Reason:\t%s\n", decision.Reason)
		return w.Flush()
	},
}

func printReports(out io.Writer, format string, reports []ciwatch.Report) error {
	if format == "json" {
		return writeJSON(out, reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(out, "No open PRs checked")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PR\tBRANCH\tACTION\tREASON")
	for _, r := range reports {
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\n", r.Number, r.Branch, r.Action, r.Reason)
	}
	return w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{ciWatchCmd, ciClassifyCmd} {
		c.Flags().String("format", "text", "output format: text or json")
	}
	ciWatchCmd.Flags().Bool("loop", false, "keep watching at ci.poll_interval")
	ciClassifyCmd.Flags().Int("attempts", 0, "prior retry attempts")

	ciCmd.AddCommand(ciWatchCmd)
	ciCmd.AddCommand(ciClassifyCmd)
}
