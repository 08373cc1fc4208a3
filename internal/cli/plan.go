package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/autotriage/internal/audit"
	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/plan"
	"github.com/lucasnoah/autotriage/internal/policy"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build and audit plans without running them",
}

var planBuildCmd = &cobra.Command{
	Use:   "build [repo-dir]",
	Short: "Build and audit the plan a job would run",
	Long: `Gather facts from a local checkout (default: current directory), build the
plan for --action and audit it under the policy for --confidence. Prints JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, _ := cmd.Flags().GetString("action")
		prompt, _ := cmd.Flags().GetString("prompt")
		conf, _ := cmd.Flags().GetFloat64("confidence")
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		var scanner facts.Scanner
		f, err := scanner.Gather(cmd.Context(), dir, prompt)
		if err != nil {
			return err
		}
		pol := policy.Resolve(conf)
		raw := plan.Build(plan.BuildInput{Action: action, Prompt: prompt, Facts: f})
		res := audit.Audit(raw, pol, f)
		return writeJSON(cmd.OutOrStdout(), struct {
			Facts   facts.Facts        `json:"facts"`
			Policy  policy.Policy      `json:"policy"`
			Raw     plan.ExecutionPlan `json:"raw"`
			Audited audit.Result       `json:"audited"`
		}{f, pol, raw, res})
	},
}

var planAuditCmd = &cobra.Command{
	Use:   "audit <plan-file>",
	Short: "Audit a YAML or JSON plan under a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, _ := cmd.Flags().GetFloat64("confidence")
		hasTests, _ := cmd.Flags().GetBool("has-tests")

		p, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		res := audit.Audit(p, policy.Resolve(conf), facts.Facts{HasTests: hasTests})
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("audit failed: %s", res.Reason)
		}
		return nil
	},
}

func init() {
	planBuildCmd.Flags().String("action", plan.ActionFixBugs, "job action")
	planBuildCmd.Flags().String("prompt", "", "request text")
	for _, c := range []*cobra.Command{planBuildCmd, planAuditCmd} {
		c.Flags().Float64("confidence", 0, "intent confidence used to resolve the policy")
	}
	planAuditCmd.Flags().Bool("has-tests", false, "treat the repository as having tests")

	planCmd.AddCommand(planBuildCmd)
	planCmd.AddCommand(planAuditCmd)
}
