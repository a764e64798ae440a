package envstate

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

func desiredFixture() *DesiredState {
	return &DesiredState{
		Scope: Scope{Env: "staging", Workload: "api"},
		Entries: []Entry{
			{Key: "LOG_LEVEL", Literal: "info"},
			{Key: "DB_URL", Secret: true, Handle: secret.NewHandle("db_url", []byte("postgres://x"))},
			{Key: "AWS_ROLE_ARN", IAM: true, Literal: "arn:aws:iam::1:role/app"},
			{Key: "REGION", Literal: "eu-west-1"},
		},
	}
}

func TestCompute_AllAddedAgainstEmpty(t *testing.T) {
	desired := desiredFixture()
	deployed := NewDeployedState(desired.Scope)

	diff, err := Compute(desired, deployed, nil)
	if err != nil {
		t.Fatalf("Compute() error: %v", err)
	}

	want := []Change{
		{Key: "LOG_LEVEL", Kind: Added, Risk: RiskLow},
		{Key: "DB_URL", Kind: Added, Risk: RiskLow, Secret: true},
		{Key: "AWS_ROLE_ARN", Kind: Added, Risk: RiskHigh, IAM: true},
		{Key: "REGION", Kind: Added, Risk: RiskLow},
	}
	if d := cmp.Diff(want, diff.Changes); d != "" {
		t.Errorf("Compute() mismatch (-want +got):\n%s", d)
	}
}

func TestCompute_ChangedRemovedUnchanged(t *testing.T) {
	desired := desiredFixture()
	deployed := NewDeployedState(desired.Scope)
	deployed.Hashes["LOG_LEVEL"] = secret.HashValue([]byte("info"))
	deployed.Hashes["DB_URL"] = secret.HashValue([]byte("postgres://old"))
	deployed.Hashes["REGION"] = secret.HashValue([]byte("eu-west-1"))
	deployed.Hashes["AWS_ROLE_ARN"] = secret.HashValue([]byte("arn:aws:iam::1:role/app"))
	deployed.Hashes["ZZZ_OLD"] = secret.HashValue([]byte("gone"))
	deployed.Hashes["AAA_IAM_POLICY"] = secret.HashValue([]byte("gone"))

	diff, err := Compute(desired, deployed, NewIAMPredicate([]string{"*_IAM_*"}))
	if err != nil {
		t.Fatalf("Compute() error: %v", err)
	}

	want := []Change{
		{Key: "LOG_LEVEL", Kind: Unchanged, Risk: RiskLow},
		{Key: "DB_URL", Kind: Changed, Risk: RiskHigh, Secret: true},
		{Key: "AWS_ROLE_ARN", Kind: Unchanged, Risk: RiskLow, IAM: true},
		{Key: "REGION", Kind: Unchanged, Risk: RiskLow},
		{Key: "AAA_IAM_POLICY", Kind: Removed, Risk: RiskHigh, IAM: true},
		{Key: "ZZZ_OLD", Kind: Removed, Risk: RiskHigh},
	}
	if d := cmp.Diff(want, diff.Changes); d != "" {
		t.Errorf("Compute() mismatch (-want +got):\n%s", d)
	}
	if diff.Empty() {
		t.Error("expected non-empty diff")
	}
}

func TestBuildChangeset_ExcludesIAM(t *testing.T) {
	desired := desiredFixture()
	deployed := NewDeployedState(desired.Scope)
	deployed.Hashes["OLD_IAM_KEY"] = "sha256:aa"
	deployed.Hashes["STALE"] = "sha256:bb"

	diff, err := Compute(desired, deployed, NewIAMPredicate([]string{"*_IAM_*"}))
	if err != nil {
		t.Fatalf("Compute() error: %v", err)
	}

	cs, advisories := BuildChangeset(desired, diff)

	for _, k := range cs.Keys() {
		if k == "AWS_ROLE_ARN" || k == "OLD_IAM_KEY" {
			t.Errorf("IAM key %s leaked into changeset", k)
		}
	}
	if d := cmp.Diff([]string{"LOG_LEVEL", "DB_URL", "REGION", "STALE"}, cs.Keys()); d != "" {
		t.Errorf("changeset keys mismatch (-want +got):\n%s", d)
	}
	if len(advisories) != 2 {
		t.Fatalf("expected 2 advisories, got %d", len(advisories))
	}
	if advisories[0].Key != "AWS_ROLE_ARN" || advisories[1].Key != "OLD_IAM_KEY" {
		t.Errorf("unexpected advisories: %+v", advisories)
	}
}

func TestVerifyDiff(t *testing.T) {
	diff := Diff{Changes: []Change{
		{Key: "A", Kind: Unchanged},
		{Key: "ROLE", Kind: Changed, IAM: true},
	}}
	res := VerifyDiff(diff)
	if !res.Passed() {
		t.Errorf("expected pass with only IAM mismatch, got %+v", res)
	}
	if len(res.Advisories) != 1 {
		t.Errorf("expected 1 advisory, got %d", len(res.Advisories))
	}

	diff.Changes = append(diff.Changes, Change{Key: "B", Kind: Added})
	res = VerifyDiff(diff)
	if res.Passed() {
		t.Error("expected fail with a non-IAM mismatch")
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Key != "B" {
		t.Errorf("unexpected mismatches: %+v", res.Mismatches)
	}
}

func TestIAMPredicate(t *testing.T) {
	pred := NewIAMPredicate([]string{"*_ROLE_ARN", "iam_*"})

	tests := []struct {
		v    Variable
		want bool
	}{
		{Variable{Key: "APP_ROLE_ARN"}, true},
		{Variable{Key: "IAM_USER"}, true},
		{Variable{Key: "iam_user"}, true},
		{Variable{Key: "LOG_LEVEL"}, false},
		{Variable{Key: "LOG_LEVEL", IAM: true}, true},
	}
	for _, tt := range tests {
		if got := pred(tt.v); got != tt.want {
			t.Errorf("pred(%s) = %v, want %v", tt.v.Key, got, tt.want)
		}
	}
}
