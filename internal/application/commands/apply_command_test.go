package commands

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/test/helpers"
)

var dev = envstate.Scope{Env: "dev"}

func approved() approval.Capabilities {
	return approval.Capabilities{Approve: true}
}

func newApply(f *helpers.Fixture) *ApplyCommandHandler {
	return NewApplyCommandHandler(f.Builder, f.Locker, f.Recorder, f.Health)
}

func TestApply_WithoutApproveTouchesNothing(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))

	rep, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev})
	if !errors.Is(err, failure.ErrApprovalRejected) {
		t.Fatalf("expected approval rejected, got %v", err)
	}
	if failure.ExitCode(err) != failure.ExitApproval {
		t.Errorf("ExitCode() = %d, want %d", failure.ExitCode(err), failure.ExitApproval)
	}
	if len(spy.MutatingCalls) != 0 || spy.ReadCalls != 0 {
		t.Errorf("adapter was called: mutating=%v reads=%d", spy.MutatingCalls, spy.ReadCalls)
	}
	if len(f.Locker.AcquireCalls) != 0 {
		t.Errorf("lock taken before approval: %v", f.Locker.AcquireCalls)
	}
	if rep.Status != report.StatusFailed || len(f.Evidence.Runs) != 1 {
		t.Errorf("expected failed run with evidence, got status=%s runs=%d", rep.Status, len(f.Evidence.Runs))
	}
	if len(f.Notifier.Summaries) != 0 {
		t.Error("rejected apply must not notify")
	}
}

func TestApply_RemoteNeedsApproveRemote(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.RemoteTarget("dev"))

	_, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Remote: true, Caps: approved()})
	if failure.KindOf(err) != failure.KindApprovalRejected {
		t.Fatalf("expected approval rejected, got %v", err)
	}
	if len(spy.MutatingCalls) != 0 {
		t.Errorf("adapter mutated without --approve-remote: %v", spy.MutatingCalls)
	}

	caps := approval.Capabilities{Approve: true, ApproveRemote: true}
	if _, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Remote: true, Caps: caps}); err != nil {
		t.Fatalf("Handle() with both approvals returned error: %v", err)
	}
}

func TestApply_RemotePolicyNeedsRemoteFlag(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.RemoteTarget("dev"))

	caps := approval.Capabilities{Approve: true, ApproveRemote: true}
	_, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Caps: caps})
	if failure.KindOf(err) != failure.KindPrecondition {
		t.Fatalf("expected precondition failure, got %v", err)
	}
	if len(spy.MutatingCalls) != 0 {
		t.Error("adapter mutated")
	}
}

func TestApply_ExcludesIAMKeys(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))

	rep, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()})
	if err != nil {
		t.Fatalf("Handle() returned error: %v", err)
	}

	if len(spy.ApplyCalls) != 1 {
		t.Fatalf("expected one apply call, got %d", len(spy.ApplyCalls))
	}
	want := []string{"APP_NAME", "LOG_LEVEL", "DB_URL"}
	if diff := cmp.Diff(want, spy.ApplyCalls[0].Keys()); diff != "" {
		t.Errorf("changeset keys mismatch (-want +got):\n%s", diff)
	}
	if _, ok := spy.Deployed["AWS_ROLE_ARN"]; ok {
		t.Error("IAM key reached the adapter")
	}

	if len(rep.Advisories) != 1 || rep.Advisories[0].Key != "AWS_ROLE_ARN" {
		t.Errorf("expected one IAM advisory, got %+v", rep.Advisories)
	}
	if rep.Verification == nil || !rep.Verification.Passed() {
		t.Errorf("expected verification to pass with IAM advisory, got %+v", rep.Verification)
	}
	if len(f.Notifier.Summaries) != 1 || f.Notifier.Summaries[0].Status != string(report.StatusOK) {
		t.Errorf("unexpected notifications: %+v", f.Notifier.Summaries)
	}
}

func TestApply_SecondApplyIsNoop(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))
	h := newApply(f)

	if _, err := h.Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()}); err != nil {
		t.Fatalf("first apply returned error: %v", err)
	}
	rep, err := h.Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()})
	if err != nil {
		t.Fatalf("second apply returned error: %v", err)
	}

	if rep.Status != report.StatusNoop {
		t.Errorf("second apply status = %s, want noop", rep.Status)
	}
	for _, c := range rep.Diff.Pending() {
		if !c.IAM {
			t.Errorf("unexpected pending change on second apply: %+v", c)
		}
	}
	if len(spy.ApplyCalls) != 1 {
		t.Errorf("expected adapter Apply once, got %d", len(spy.ApplyCalls))
	}
}

func TestApply_VerificationFailure(t *testing.T) {
	spy := helpers.NewSpy()
	spy.ApplyFunc = func(_ context.Context, target ports.DeployTarget, _ envstate.Changeset, token *approval.Token) (*ports.ExecutionLog, error) {
		if err := token.Consume(approval.OpApply, target.Scope); err != nil {
			return nil, err
		}
		return ports.NewExecutionLog("apply", "spy", target.Scope), nil
	}
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))

	rep, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()})
	if failure.KindOf(err) != failure.KindVerification {
		t.Fatalf("expected verification failure, got %v", err)
	}
	if failure.ExitCode(err) != failure.ExitAdapter {
		t.Errorf("ExitCode() = %d, want %d", failure.ExitCode(err), failure.ExitAdapter)
	}
	if rep.Verification == nil || rep.Verification.Passed() {
		t.Errorf("expected failed verification in report, got %+v", rep.Verification)
	}
	if f.Locker.Released != 1 {
		t.Errorf("lock released %d times, want 1", f.Locker.Released)
	}
}

func TestApply_LockContention(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))
	f.Locker.AcquireFunc = func(string, string, string) (func() error, error) {
		return nil, failure.Precondition("wait for the other run", "lock is held")
	}

	_, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()})
	if failure.KindOf(err) != failure.KindPrecondition {
		t.Fatalf("expected precondition failure, got %v", err)
	}
	if len(spy.MutatingCalls) != 0 || spy.ReadCalls != 0 {
		t.Error("adapter was called while the lock was held elsewhere")
	}
}

func TestApply_EvidenceIsRedacted(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))

	if _, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()}); err != nil {
		t.Fatalf("Handle() returned error: %v", err)
	}

	for _, rec := range f.Evidence.Records[0] {
		data, err := json.Marshal(rec.Payload)
		if err != nil {
			t.Fatalf("failed to encode %s: %v", rec.Name, err)
		}
		if strings.Contains(string(data), "hunter2") {
			t.Errorf("%s leaks the secret: %s", rec.Name, data)
		}
	}
	if got := f.Locker.AcquireCalls; len(got) != 1 || got[0] != "dev//spy" {
		t.Errorf("unexpected lock calls: %v", got)
	}
}

func TestApply_UnknownEnv(t *testing.T) {
	f := helpers.NewFixture(helpers.NewSpy(), helpers.MockTarget("dev"))
	_, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: envstate.Scope{Env: "prod"}, Caps: approved()})
	if failure.ExitCode(err) != failure.ExitPrecondition {
		t.Fatalf("expected exit %d, got %v", failure.ExitPrecondition, err)
	}
	if !strings.Contains(err.Error(), "no policy target matches") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestApply_HealthCheck(t *testing.T) {
	healthy := helpers.MockTarget("dev")
	healthy.Set.Health = &policy.Health{URL: "http://127.0.0.1:8080/health"}

	t.Run("checks after a change", func(t *testing.T) {
		f := helpers.NewFixture(helpers.NewSpy(), healthy)
		rep, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()})
		if err != nil {
			t.Fatalf("Handle() returned error: %v", err)
		}
		if diff := cmp.Diff([]string{"http://127.0.0.1:8080/health"}, f.Health.CheckCalls); diff != "" {
			t.Errorf("health check calls mismatch (-want +got):\n%s", diff)
		}
		last := rep.Execution.Steps[len(rep.Execution.Steps)-1]
		if last.Name != "health-check" || last.Status != ports.StepOK {
			t.Errorf("last step = %+v, want ok health-check", last)
		}
	})

	t.Run("failure is an adapter error", func(t *testing.T) {
		f := helpers.NewFixture(helpers.NewSpy(), healthy)
		f.Health.CheckFunc = func(context.Context, policy.Health) error {
			return failure.Mark(errors.New("status 503"), failure.ErrUnreachable)
		}
		rep, err := newApply(f).Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()})
		if failure.ExitCode(err) != failure.ExitAdapter {
			t.Fatalf("expected adapter failure, got %v", err)
		}
		if !rep.Execution.Failed() {
			t.Error("execution log should record the failed health check")
		}
	})

	t.Run("skipped when nothing changed", func(t *testing.T) {
		f := helpers.NewFixture(helpers.NewSpy(), healthy)
		h := newApply(f)
		if _, err := h.Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()}); err != nil {
			t.Fatal(err)
		}
		f.Health.CheckCalls = nil
		if _, err := h.Handle(context.Background(), ApplyCommand{Scope: dev, Caps: approved()}); err != nil {
			t.Fatal(err)
		}
		if len(f.Health.CheckCalls) != 0 {
			t.Errorf("noop apply checked %v", f.Health.CheckCalls)
		}
	})
}
