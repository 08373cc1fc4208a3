package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autotriage/internal/config"
	"github.com/lucasnoah/autotriage/internal/runner"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued jobs on a worker pool",
	Long: `Claim QUEUED jobs and run them until interrupted. With --drain the pool runs
whatever is queued on one worker and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		drain, _ := cmd.Flags().GetBool("drain")
		workers, _ := cmd.Flags().GetInt("workers")

		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		if workers <= 0 {
			workers = rt.cfg.Workers
		}
		pool := runner.NewPool(rt.runner(), rt.store, workers, config.Duration(rt.cfg.PollInterval, 2*time.Second))
		pool.SetProgress(cmd.ErrOrStderr())

		if drain {
			results, err := pool.Drain(cmd.Context())
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "job %d: %s %s\n", r.JobID, r.Status, r.Reason)
			}
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "worker pool started with %d worker(s)\n", workers)
		err = pool.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	workerCmd.Flags().Int("workers", 0, "number of workers (default: config workers)")
	workerCmd.Flags().Bool("drain", false, "run queued jobs once and exit")
}
