package commands

import (
	"context"

	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// ApplyCommand represents the command to apply the pending diff
type ApplyCommand struct {
	Scope  envstate.Scope
	Remote bool
	Caps   approval.Capabilities
}

// ApplyCommandHandler handles the apply command
// This follows the Command pattern and Single Responsibility Principle
type ApplyCommandHandler struct {
	builder  *desired.Builder
	locker   ports.Locker
	recorder *report.Recorder
	checker  ports.HealthChecker
}

// NewApplyCommandHandler creates a new apply command handler. checker may be
// nil, which skips health checks.
func NewApplyCommandHandler(builder *desired.Builder, locker ports.Locker, recorder *report.Recorder, checker ports.HealthChecker) *ApplyCommandHandler {
	return &ApplyCommandHandler{builder: builder, locker: locker, recorder: recorder, checker: checker}
}

// Handle executes the apply command
func (h *ApplyCommandHandler) Handle(ctx context.Context, cmd ApplyCommand) (*report.Report, error) {
	rep := h.recorder.Start(string(approval.OpApply), cmd.Scope)

	res, err := h.builder.Build(ctx, desired.Request{Scope: cmd.Scope, Remote: cmd.Remote})
	if err != nil {
		return rep, h.recorder.Finish(ctx, rep, nil, err)
	}
	rep.Route(res.Target, res.Skeleton.Warnings)

	err = h.recorder.Finish(ctx, rep, res.Desired, h.apply(ctx, cmd, res, rep))
	if rep.Execution != nil {
		h.recorder.Notify(ctx, rep)
	}
	return rep, err
}

func (h *ApplyCommandHandler) apply(ctx context.Context, cmd ApplyCommand, res *desired.Result, rep *report.Report) error {
	// 1. Approval gate, before any lock or adapter call
	token, err := approval.Grant(cmd.Caps, approval.OpApply, cmd.Scope, res.Target.Remote())
	if err != nil {
		return err
	}

	return withLock(h.locker, res, func() error {
		// 2. Read deployed state and diff
		ui.Step("Reading deployed state for %s (%s)", cmd.Scope, res.Adapter.Name())
		deployed, err := res.Adapter.ReadDeployed(ctx, res.Target)
		if err != nil {
			return err
		}
		diff, err := res.Adapter.Plan(res.Desired, deployed)
		if err != nil {
			return err
		}
		rep.SetDiff(diff)

		// 3. Drop IAM keys from the changeset
		changes, advisories := envstate.BuildChangeset(res.Desired, diff)
		rep.Advisories = advisories
		for _, a := range advisories {
			ui.Warnf("Skipping %s (%s): %s", a.Key, a.Kind, a.Reason)
		}

		// 4. Apply
		if changes.Empty() {
			ui.Infof("Nothing to apply for %s", cmd.Scope)
			rep.Status = report.StatusNoop
		} else {
			ui.Step("Applying %d change(s) to %s", len(changes.Changes), cmd.Scope)
			log, err := res.Adapter.Apply(ctx, res.Target, changes, token)
			rep.Execution = log
			if err != nil {
				return err
			}
		}

		// 5. Verify against a fresh read
		if err := verifyAfter(ctx, res, rep, nil); err != nil {
			return err
		}

		// 6. Check the workload once something changed
		return h.checkHealth(ctx, res, rep)
	})
}

func (h *ApplyCommandHandler) checkHealth(ctx context.Context, res *desired.Result, rep *report.Report) error {
	check := res.Target.Target.Set.Health
	if h.checker == nil || check == nil || rep.Execution == nil {
		return nil
	}

	ui.Step("Checking health of %s", check.URL)
	if err := h.checker.Check(ctx, *check); err != nil {
		rep.Execution.Record("health-check", "", ports.StepFailed, err.Error())
		return err
	}
	rep.Execution.Record("health-check", "", ports.StepOK, check.URL)
	return nil
}

// verifyAfter re-reads deployed state and verifies it. When keys is set,
// only mismatches on those keys fail the run.
func verifyAfter(ctx context.Context, res *desired.Result, rep *report.Report, keys []string) error {
	deployed, err := res.Adapter.ReadDeployed(ctx, res.Target)
	if err != nil {
		return err
	}
	v, err := res.Adapter.Verify(res.Desired, deployed)
	if err != nil {
		return err
	}
	if keys != nil {
		v = restrict(v, keys)
	}
	rep.Verification = &v
	if v.Passed() {
		ui.Successf("Verified %s", res.Target.Scope)
	}
	return report.VerificationError(res.Target.Scope, v)
}

func restrict(v envstate.VerificationResult, keys []string) envstate.VerificationResult {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := envstate.VerificationResult{Status: envstate.VerifyPass, Advisories: v.Advisories}
	for _, c := range v.Mismatches {
		if want[c.Key] {
			out.Mismatches = append(out.Mismatches, c)
		}
	}
	if len(out.Mismatches) > 0 {
		out.Status = envstate.VerifyFail
	}
	return out
}
