package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/lucasnoah/autotriage/internal/analytics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize job outcomes, gate decisions and CI retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		window, _ := cmd.Flags().GetDuration("since")

		since := ""
		if window > 0 {
			since = time.Now().Add(-window).UTC().Format(time.RFC3339Nano)
		}

		s, err := storeFromConfig()
		if err != nil {
			return err
		}
		defer s.Close()

		r, err := analytics.Query(s, since)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), r)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACTION\tTOTAL\tOPEN\tCOMPLETED\tFAILED\tABORTED\tREVIEW")
		for _, o := range r.Outcomes {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%.1f%%\n",
				o.Action, o.Total, o.Open, o.Completed, o.Failed, o.Aborted, o.NeedsReview)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "ACTION\tFINISHED\tAVG(m)\tP50(m)\tP95(m)")
		for _, d := range r.Durations {
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", d.Action, d.Count, d.Avg, d.P50, d.P95)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Gate decisions:\t%d (apply %.1f%%, propose %.1f%%, reject %.1f%%)\n",
			r.Gate.Total, r.Gate.Apply, r.Gate.Propose, r.Gate.Reject)
		if len(r.Failures) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "FAILURES\tREASON")
			for _, f := range r.Failures {
				fmt.Fprintf(w, "%d\t%s\n", f.Count, f.Reason)
			}
		}
		if len(r.CI) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "CI OUTCOME\tPRS\tACTIVE\tAVG ATTEMPTS")
			for _, c := range r.CI {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\n", c.Outcome, c.PRs, c.Active, c.AvgAttempts)
			}
		}
		return w.Flush()
	},
}

func init() {
	statsCmd.Flags().Duration("since", 0, "only count jobs created within this window (e.g. 168h)")
	statsCmd.Flags().String("format", "text", "output format: text or json")
}
