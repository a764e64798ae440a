package commands

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
	"github.com/vivekkundariya/envctl/test/helpers"
	"github.com/vivekkundariya/envctl/test/mocks"
)

func deployedSpy() *mocks.SpyFullAdapter {
	spy := helpers.NewSpy()
	spy.Deployed = map[string]string{"DB_URL": secret.HashValue([]byte("postgres://old"))}
	return spy
}

func TestRotate(t *testing.T) {
	spy := deployedSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))
	h := NewRotateCommandHandler(f.Builder, f.Locker, f.Recorder, f.Resolver)

	rep, err := h.Handle(context.Background(), RotateCommand{Scope: dev, Caps: approved(), Secret: "db_url"})
	if err != nil {
		t.Fatalf("Handle() returned error: %v", err)
	}

	if diff := cmp.Diff([]string{"db_url"}, spy.RotateCalls); diff != "" {
		t.Errorf("rotate calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"DB_URL"}, rep.Keys()); diff != "" {
		t.Errorf("rotated keys mismatch (-want +got):\n%s", diff)
	}
	want := secret.HashValue([]byte(helpers.SecretValue))
	if spy.Deployed["DB_URL"] != want {
		t.Errorf("DB_URL hash = %s, want %s", spy.Deployed["DB_URL"], want)
	}
	if rep.Verification == nil || !rep.Verification.Passed() {
		t.Errorf("expected rotated keys to verify, got %+v", rep.Verification)
	}
	if f.Locker.Released != 1 {
		t.Errorf("lock released %d times, want 1", f.Locker.Released)
	}
}

func TestRotate_RegeneratesSecret(t *testing.T) {
	spy := deployedSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))
	f.Resolver.Regenerated = map[string]string{"db_url": "postgres://fresh"}
	h := NewRotateCommandHandler(f.Builder, f.Locker, f.Recorder, f.Resolver)

	rep, err := h.Handle(context.Background(), RotateCommand{Scope: dev, Caps: approved(), Secret: "db_url"})
	if err != nil {
		t.Fatalf("Handle() returned error: %v", err)
	}

	if diff := cmp.Diff([]string{"db_url"}, f.Resolver.RegenerateCalls); diff != "" {
		t.Errorf("regenerate calls mismatch (-want +got):\n%s", diff)
	}
	want := secret.HashValue([]byte("postgres://fresh"))
	if spy.Deployed["DB_URL"] != want {
		t.Errorf("DB_URL hash = %s, want the regenerated value's %s", spy.Deployed["DB_URL"], want)
	}
	if rep.Verification == nil || !rep.Verification.Passed() {
		t.Errorf("expected the regenerated value to verify, got %+v", rep.Verification)
	}
	if rep.Execution == nil || len(rep.Execution.Steps) == 0 || rep.Execution.Steps[0].Name != "generate_secret" {
		t.Errorf("expected generate_secret as the first step, got %+v", rep.Execution)
	}
}

func TestRotate_RequiresDeployedState(t *testing.T) {
	spy := helpers.NewSpy()
	f := helpers.NewFixture(spy, helpers.MockTarget("dev"))
	f.Resolver.Regenerated = map[string]string{"db_url": "postgres://fresh"}
	h := NewRotateCommandHandler(f.Builder, f.Locker, f.Recorder, f.Resolver)

	_, err := h.Handle(context.Background(), RotateCommand{Scope: dev, Caps: approved(), Secret: "db_url"})
	if got := failure.KindOf(err); got != failure.KindPrecondition {
		t.Fatalf("KindOf() = %s, want %s (err: %v)", got, failure.KindPrecondition, err)
	}
	if len(spy.MutatingCalls) != 0 {
		t.Errorf("adapter mutated: %v", spy.MutatingCalls)
	}
	if len(f.Resolver.RegenerateCalls) != 0 {
		t.Errorf("secret regenerated for an undeployed scope: %v", f.Resolver.RegenerateCalls)
	}
	if f.Locker.Released != 1 {
		t.Errorf("lock released %d times, want 1", f.Locker.Released)
	}
}

func TestRotate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		basic  bool
		caps   bool
		secret string
		kind   failure.Kind
	}{
		{"no secret flag", false, true, "", failure.KindValidation},
		{"unknown secret", false, true, "api_token", failure.KindValidation},
		{"no approval", false, false, "db_url", failure.KindApprovalRejected},
		{"provider cannot rotate", true, true, "db_url", failure.KindNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f *helpers.Fixture
			var mutating func() []string
			if tt.basic {
				spy := helpers.NewBasicSpy()
				f = helpers.NewFixture(spy, helpers.MockTarget("dev"))
				mutating = func() []string { return spy.MutatingCalls }
			} else {
				spy := helpers.NewSpy()
				f = helpers.NewFixture(spy, helpers.MockTarget("dev"))
				mutating = func() []string { return spy.MutatingCalls }
			}

			cmd := RotateCommand{Scope: dev, Secret: tt.secret}
			if tt.caps {
				cmd.Caps = approved()
			}
			_, err := NewRotateCommandHandler(f.Builder, f.Locker, f.Recorder, f.Resolver).Handle(context.Background(), cmd)
			if got := failure.KindOf(err); got != tt.kind {
				t.Fatalf("KindOf() = %s, want %s (err: %v)", got, tt.kind, err)
			}
			if len(mutating()) != 0 {
				t.Errorf("adapter mutated: %v", mutating())
			}
			if len(f.Locker.AcquireCalls) != 0 {
				t.Errorf("lock taken: %v", f.Locker.AcquireCalls)
			}
		})
	}
}
