package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autotriage/internal/artifact"
	"github.com/lucasnoah/autotriage/internal/job"
	"github.com/lucasnoah/autotriage/internal/plan"
	"github.com/lucasnoah/autotriage/internal/runner"
	"github.com/lucasnoah/autotriage/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Enqueue, run and steer jobs",
}

var jobEnqueueCmd = &cobra.Command{
	Use:   "enqueue <owner/repo>",
	Short: "Queue a job for the worker pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nj, err := newJobFromFlags(cmd, args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.CreateJob(cmd.Context(), nj)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s on %s/%s)\n", id, nj.Action, nj.Owner, nj.Repo)
		return nil
	},
}

var jobRunCmd = &cobra.Command{
	Use:   "run [id | owner/repo]",
	Short: "Run a job in the foreground",
	Long: `Run an existing job by id, resuming it if it was interrupted, or create and
run a new job when given owner/repo with --action.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		var req runner.Request
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			req.JobID = id
		} else {
			nj, err := newJobFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			req = runner.Request{Owner: nj.Owner, Repo: nj.Repo, Action: nj.Action, Prompt: nj.Prompt}
		}

		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.runner().Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %d: %s\n", res.JobID, res.Status)
		if res.Reason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Reason: %s\n", res.Reason)
		}
		if res.PRURL != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "PR: %s\n", res.PRURL)
		}
		return nil
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		s, err := storeFromConfig()
		if err != nil {
			return err
		}
		defer s.Close()

		j, err := s.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), j)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Job:\t%d\n", j.ID)
		fmt.Fprintf(w, "Repo:\t%s\n", j.FullRepo())
		fmt.Fprintf(w, "Action:\t%s\n", j.Action)
		fmt.Fprintf(w, "Status:\t%s\n", j.Status)
		if j.StatusReason != "" {
			fmt.Fprintf(w, "Reason:\t%s\n", j.StatusReason)
		}
		if j.PRURL != "" {
			fmt.Fprintf(w, "PR:\t%s\n", j.PRURL)
		}
		if j.RepoPath != "" {
			fmt.Fprintf(w, "Checkout:\t%s\n", j.RepoPath)
		}
		fmt.Fprintf(w, "Created:\t%s\n", j.CreatedAt)
		if j.FinishedAt != "" {
			fmt.Fprintf(w, "Finished:\t%s\n", j.FinishedAt)
		}
		return w.Flush()
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		f := store.ListFilter{Status: job.Status(status), Limit: limit}
		if r, _ := cmd.Flags().GetString("repo"); r != "" {
			owner, repo, err := parseRepo(r)
			if err != nil {
				return err
			}
			f.Owner, f.Repo = owner, repo
		}

		s, err := storeFromConfig()
		if err != nil {
			return err
		}
		defer s.Close()

		jobs, err := s.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), jobs)
		}
		if len(jobs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tREPO\tACTION\tSTATUS\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", j.ID, j.FullRepo(), j.Action, j.Status, j.CreatedAt)
		}
		return w.Flush()
	},
}

var jobEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show a job's event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		after, _ := cmd.Flags().GetInt64("after")
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		s, err := storeFromConfig()
		if err != nil {
			return err
		}
		defer s.Close()

		events, err := s.EventsSince(cmd.Context(), id, after)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), events)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tTIME\tPAYLOAD")
		for _, e := range events {
			payload := e.Payload
			if len(payload) > 100 {
				payload = payload[:97] + "..."
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.Type, e.CreatedAt, payload)
		}
		return w.Flush()
	},
}

// controlCmd builds a command that appends one control event.
func controlCmd(use, short string, typ job.EventType, nargs int, payload func(cmd *cobra.Command, args []string) any) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			s, err := storeFromConfig()
			if err != nil {
				return err
			}
			defer s.Close()

			j, err := s.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if j.Status.Terminal() {
				return fmt.Errorf("job %d is %s: %w", id, j.Status, job.ErrTerminal)
			}
			var p any
			if payload != nil {
				p = payload(cmd, args)
			}
			if _, err := s.AppendEvent(cmd.Context(), id, typ, p); err != nil {
				return err
			}
			// Nothing is polling a queued job, so abort it directly.
			if typ == job.EventAbort && j.Status == job.Queued {
				if err := s.SetStatus(cmd.Context(), id, job.Aborted, "aborted by user"); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to job %d\n", typ, id)
			return nil
		},
	}
}

func reviewPayload(cmd *cobra.Command, _ []string) any {
	proposal, _ := cmd.Flags().GetString("proposal")
	comment, _ := cmd.Flags().GetString("comment")
	return job.ReviewPayload{ProposalID: proposal, Comment: comment}
}

var (
	jobPauseCmd   = controlCmd("pause <id>", "Pause a job at the next step boundary", job.EventPause, 1, nil)
	jobResumeCmd  = controlCmd("resume <id>", "Resume a paused job", job.EventResume, 1, nil)
	jobAbortCmd   = controlCmd("abort <id>", "Abort a job", job.EventAbort, 1, nil)
	jobApproveCmd = controlCmd("approve <id>", "Approve the open proposal", job.EventApprove, 1, reviewPayload)
	jobRejectCmd  = controlCmd("reject <id>", "Reject the open proposal", job.EventReject, 1, reviewPayload)
	jobInputCmd   = controlCmd("input <id> <answer>", "Answer the open question", job.EventUserInput, 2, func(cmd *cobra.Command, args []string) any {
		q, _ := cmd.Flags().GetString("question")
		return job.InputPayload{QuestionID: q, Answer: args[1]}
	})
)

var jobRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a blocked step, or re-queue a failed job",
	Long: `For a BLOCKED job, answers the open question with "retry". For a FAILED job,
queues a new job with the same request that reuses the old checkout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		s, err := storeFromConfig()
		if err != nil {
			return err
		}
		defer s.Close()

		j, err := s.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		switch j.Status {
		case job.Blocked:
			if _, err := s.AppendEvent(cmd.Context(), id, job.EventRetry, job.InputPayload{Answer: "retry"}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent RETRY to job %d\n", id)
			return nil
		case job.Failed:
			newID, err := s.CreateJob(cmd.Context(), store.NewJob{
				Owner:    j.Owner,
				Repo:     j.Repo,
				Action:   j.Action,
				Prompt:   j.Prompt,
				RepoPath: j.RepoPath,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d as a retry of job %d\n", newID, id)
			return nil
		default:
			return fmt.Errorf("job %d is %s; only BLOCKED or FAILED jobs can be retried", id, j.Status)
		}
	},
}

func newJobFromFlags(cmd *cobra.Command, repoArg string) (store.NewJob, error) {
	owner, repo, err := parseRepo(repoArg)
	if err != nil {
		return store.NewJob{}, err
	}
	action, _ := cmd.Flags().GetString("action")
	prompt, _ := cmd.Flags().GetString("prompt")
	known := false
	for _, a := range plan.Actions() {
		if a == action {
			known = true
		}
	}
	if !known {
		return store.NewJob{}, fmt.Errorf("unknown action %q (want one of %v)", action, plan.Actions())
	}
	return store.NewJob{Owner: owner, Repo: repo, Action: action, Prompt: prompt}, nil
}

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q: must be a positive integer", s)
	}
	return id, nil
}

var jobArtifactsCmd = &cobra.Command{
	Use:   "artifacts <id> [name]",
	Short: "List a job's artifacts, or print one",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseJobID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		arts := artifact.NewStore(cfg.ArtifactDir)

		if len(args) == 2 {
			text, err := arts.Load(id, args[1])
			if err != nil {
				return fmt.Errorf("load artifact: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		}
		names, err := arts.List(id)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No artifacts for job %d\n", id)
			return nil
		}
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", arts.Path(id, name))
		}
		return nil
	},
}

func storeFromConfig() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

func init() {
	for _, c := range []*cobra.Command{jobEnqueueCmd, jobRunCmd} {
		c.Flags().String("action", plan.ActionFixBugs, "job action")
		c.Flags().String("prompt", "", "request text, e.g. a bug report or stack trace")
	}
	for _, c := range []*cobra.Command{jobRunCmd, jobStatusCmd, jobListCmd, jobEventsCmd} {
		c.Flags().String("format", "text", "output format: text or json")
	}
	jobListCmd.Flags().String("status", "", "filter by status")
	jobListCmd.Flags().String("repo", "", "filter by owner/repo")
	jobListCmd.Flags().Int("limit", 50, "maximum jobs to list")
	jobEventsCmd.Flags().Int64("after", 0, "only events after this id")
	for _, c := range []*cobra.Command{jobApproveCmd, jobRejectCmd} {
		c.Flags().String("proposal", "", "proposal id (default: the open proposal)")
		c.Flags().String("comment", "", "review comment")
	}
	jobInputCmd.Flags().String("question", "", "question id (default: the open question)")

	jobCmd.AddCommand(jobEnqueueCmd)
	jobCmd.AddCommand(jobRunCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobEventsCmd)
	jobCmd.AddCommand(jobPauseCmd)
	jobCmd.AddCommand(jobResumeCmd)
	jobCmd.AddCommand(jobAbortCmd)
	jobCmd.AddCommand(jobApproveCmd)
	jobCmd.AddCommand(jobRejectCmd)
	jobCmd.AddCommand(jobInputCmd)
	jobCmd.AddCommand(jobRetryCmd)
	jobCmd.AddCommand(jobArtifactsCmd)
}
