package mockstore

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

var devScope = envstate.Scope{Env: "dev", Workload: "api"}

func desired() *envstate.DesiredState {
	return &envstate.DesiredState{
		Scope: devScope,
		Entries: []envstate.Entry{
			{Key: "LOG_LEVEL", Literal: "debug"},
			{Key: "DB_URL", Secret: true, Handle: secret.NewHandle("db_url", []byte("postgres://local"))},
		},
	}
}

func grant(t *testing.T, op approval.Operation) *approval.Token {
	t.Helper()
	tok, err := approval.Grant(approval.Capabilities{Approve: true}, op, devScope, false)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestAdapter_ApplyThenEmptyDiff(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir(), nil)
	target := ports.DeployTarget{Scope: devScope}

	deployed, err := a.ReadDeployed(ctx, target)
	if err != nil {
		t.Fatalf("ReadDeployed() returned error: %v", err)
	}
	if deployed.Exists {
		t.Error("fresh state should not exist")
	}

	diff, err := a.Plan(desired(), deployed)
	if err != nil {
		t.Fatal(err)
	}
	if diff.Counts()[envstate.Added] != 2 {
		t.Fatalf("expected 2 added, got %v", diff.Counts())
	}

	cs, _ := envstate.BuildChangeset(desired(), diff)
	log, err := a.Apply(ctx, target, cs, grant(t, approval.OpApply))
	if err != nil {
		t.Fatalf("Apply() returned error: %v", err)
	}
	if log.Failed() {
		t.Errorf("log reports failure: %+v", log.Steps)
	}

	deployed, err = a.ReadDeployed(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Verify(desired(), deployed)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed() {
		t.Errorf("verification failed: %+v", res.Mismatches)
	}

	info, err := os.Stat(a.StatePath(devScope))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 state file, got %o", info.Mode().Perm())
	}

	data, _ := os.ReadFile(a.StatePath(devScope))
	if len(data) == 0 || strings.Contains(string(data), "postgres://local") {
		t.Error("state must hold hashes only")
	}
}

func TestAdapter_ApplyRejectsMissingToken(t *testing.T) {
	a := New(t.TempDir(), nil)

	_, err := a.Apply(context.Background(), ports.DeployTarget{Scope: devScope}, envstate.Changeset{}, nil)
	if !errors.Is(err, failure.ErrApprovalRejected) {
		t.Fatalf("expected approval rejected, got %v", err)
	}
	if _, err := os.Stat(a.StatePath(devScope)); !os.IsNotExist(err) {
		t.Error("state written without approval")
	}
}

func TestAdapter_RotateAndDecommission(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir(), nil)
	target := ports.DeployTarget{Scope: devScope}

	deployed, _ := a.ReadDeployed(ctx, target)
	diff, _ := a.Plan(desired(), deployed)
	cs, _ := envstate.BuildChangeset(desired(), diff)
	if _, err := a.Apply(ctx, target, cs, grant(t, approval.OpApply)); err != nil {
		t.Fatal(err)
	}

	rotated := envstate.Entry{Key: "DB_URL", Secret: true, Handle: secret.NewHandle("db_url", []byte("postgres://rotated"))}
	if _, err := a.Rotate(ctx, target, "db_url", []envstate.Entry{rotated}, grant(t, approval.OpRotate)); err != nil {
		t.Fatalf("Rotate() returned error: %v", err)
	}
	deployed, _ = a.ReadDeployed(ctx, target)
	want, _ := rotated.Hash()
	if deployed.Hashes["DB_URL"] != want {
		t.Error("rotate did not update the hash")
	}
	if _, err := a.Rotate(ctx, target, "db_url", []envstate.Entry{rotated}, grant(t, approval.OpRotate)); err != nil {
		t.Fatalf("second Rotate() returned error: %v", err)
	}
	if got := readSnapshot(t, a).Rotations["db_url"].Version; got != 2 {
		t.Errorf("rotation version = %d, want 2", got)
	}

	// An apply token cannot be used for decommission
	if _, err := a.Decommission(ctx, target, grant(t, approval.OpApply)); !errors.Is(err, failure.ErrApprovalRejected) {
		t.Fatalf("expected approval rejected, got %v", err)
	}

	log, err := a.Decommission(ctx, target, grant(t, approval.OpDecommission))
	if err != nil {
		t.Fatalf("Decommission() returned error: %v", err)
	}
	if len(log.Keys) != 2 {
		t.Errorf("expected 2 decommissioned keys, got %v", log.Keys)
	}
	deployed, _ = a.ReadDeployed(ctx, target)
	if deployed.Exists || len(deployed.Hashes) != 0 {
		t.Error("state should be gone after decommission")
	}
}

func TestAdapter_RotateRequiresDeployedState(t *testing.T) {
	a := New(t.TempDir(), nil)
	rotated := envstate.Entry{Key: "DB_URL", Secret: true, Handle: secret.NewHandle("db_url", []byte("postgres://rotated"))}

	log, err := a.Rotate(context.Background(), ports.DeployTarget{Scope: devScope}, "db_url", []envstate.Entry{rotated}, grant(t, approval.OpRotate))
	if !errors.Is(err, failure.ErrPrecondition) {
		t.Fatalf("Rotate() error = %v, want precondition failure", err)
	}
	if log == nil || !log.Failed() {
		t.Errorf("expected a failed read_state step, got %+v", log)
	}
	if _, err := os.Stat(a.StatePath(devScope)); !os.IsNotExist(err) {
		t.Error("rotate created state for an undeployed scope")
	}
}

func readSnapshot(t *testing.T, a *Adapter) snapshot {
	t.Helper()
	data, err := os.ReadFile(a.StatePath(devScope))
	if err != nil {
		t.Fatal(err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestAdapter_StatePath(t *testing.T) {
	a := New("/repo", nil)
	if got := a.StatePath(envstate.Scope{Env: "dev"}); got != "/repo/.envctl/mock-state/dev.json" {
		t.Errorf("unexpected path %s", got)
	}
	if got := a.StatePath(devScope); got != "/repo/.envctl/mock-state/dev__api.json" {
		t.Errorf("unexpected path %s", got)
	}
}
