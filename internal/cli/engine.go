package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vivekkundariya/envctl/internal/application/commands"
	"github.com/vivekkundariya/envctl/internal/application/queries"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/ui"
)

var (
	remote        bool
	approve       bool
	approveRemote bool
	secretName    string
	failOnDrift   bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the diff between desired and deployed state",
	Long: `Compute the desired state for --env/--workload and diff it against what
the routed provider reports as deployed. Read-only; secret-bearing entries
show only their change kind.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context) (*report.Report, error) {
			return container.PlanQueryHandler.Handle(ctx, queries.PlanQuery{Scope: scope(), Remote: remote})
		})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the pending diff (requires --approve)",
	Long: `Apply the pending diff through the routed provider, then read the deployed
state again and verify it. Identity/access keys are never applied; each one
is reported as an advisory.

Remote transport additionally requires --remote and --approve-remote.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context) (*report.Report, error) {
			return container.ApplyCommandHandler.Handle(ctx, commands.ApplyCommand{
				Scope:  scope(),
				Remote: remote,
				Caps:   caps(),
			})
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify deployed state against desired state",
	Long:  `Read the deployed state and verify it. Mismatching keys exit with code 4.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context) (*report.Report, error) {
			return container.VerifyQueryHandler.Handle(ctx, queries.VerifyQuery{Scope: scope(), Remote: remote})
		})
	},
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Report drift between desired and deployed state",
	Long: `Report whether the deployed state has drifted. Exits 0 either way unless
--fail-on-drift is set, in which case drift exits with code 4.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context) (*report.Report, error) {
			return container.DriftQueryHandler.Handle(ctx, queries.DriftQuery{
				Scope:       scope(),
				Remote:      remote,
				FailOnDrift: failOnDrift,
			})
		})
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-inject the keys bound to one secret (requires --approve)",
	Long: `Resolve --secret again and re-inject every contract key bound to it,
leaving other keys untouched. Not every provider supports rotation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context) (*report.Report, error) {
			return container.RotateCommandHandler.Handle(ctx, commands.RotateCommand{
				Scope:  scope(),
				Remote: remote,
				Caps:   caps(),
				Secret: secretName,
			})
		})
	},
}

var decommissionCmd = &cobra.Command{
	Use:   "decommission",
	Short: "Tear down the deployed configuration (requires --approve)",
	Long: `Remove the deployed configuration of --env/--workload from the provider.
Providers without decommission support exit with code 5 and touch nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context) (*report.Report, error) {
			return container.DecommissionCommandHandler.Handle(ctx, commands.DecommissionCommand{
				Scope:  scope(),
				Remote: remote,
				Caps:   caps(),
			})
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{planCmd, applyCmd, verifyCmd, driftCmd, rotateCmd, decommissionCmd} {
		c.Flags().BoolVar(&remote, "remote", false, "Use the remote transport (SSH) of the routed target")
	}
	for _, c := range []*cobra.Command{applyCmd, rotateCmd, decommissionCmd} {
		c.Flags().BoolVar(&approve, "approve", false, "Approve this mutating operation")
		c.Flags().BoolVar(&approveRemote, "approve-remote", false, "Approve running it on remote hosts")
	}
	rotateCmd.Flags().StringVar(&secretName, "secret", "", "secret_ref name to rotate")
	driftCmd.Flags().BoolVar(&failOnDrift, "fail-on-drift", false, "Exit with code 4 when drift is found")
}

func scope() envstate.Scope {
	return envstate.Scope{Env: envName, Workload: workload}
}

// caps carries the approval flags of this invocation
func caps() approval.Capabilities {
	return approval.Capabilities{Approve: approve, ApproveRemote: approveRemote}
}

// run executes an engine operation and prints its report, also on failure
func run(ctx context.Context, fn func(ctx context.Context) (*report.Report, error)) error {
	if container == nil {
		return failure.Precondition("", "container not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if raw {
		ui.Warnf("--raw does not reveal secret values; output stays redacted")
	}

	rep, err := fn(ctx)
	if rep != nil {
		renderReport(stdout, rep)
	}
	return err
}
