package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "autotriage",
	Short: "Governed automation for code changes",
	Long: `autotriage turns a request (fix bugs, run tests, refactor, scaffold, open a PR)
into an audited execution plan, runs it against a repository checkout under an
autonomy policy, and gates every proposed edit on safety and confidence.

Jobs, events and CI retry state live in a SQLite (or PostgreSQL) database;
plans, proposals and diffs are kept as artifacts under ~/.autotriage/.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so running jobs stop at the next poll and stay resumable.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to autotriage config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(ciCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statsCmd)
}
