package fileinject

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

var scope = envstate.Scope{Env: "dev"}

func desiredState() *envstate.DesiredState {
	return &envstate.DesiredState{
		Scope: scope,
		Entries: []envstate.Entry{
			{Key: "APP_PORT", Literal: "007"},
			{Key: "LOG_LEVEL", Literal: "debug"},
			{Key: "DB_URL", Secret: true, Handle: secret.NewHandle("db_url", []byte(`postgres://u:p"$x@db/app`))},
			{Key: "DEPLOY_ROLE_ARN", IAM: true, Literal: "arn:aws:iam::1:role/new"},
		},
	}
}

func token(t *testing.T, op approval.Operation, remote bool) *approval.Token {
	t.Helper()
	tok, err := approval.Grant(approval.Capabilities{Approve: true, ApproveRemote: remote}, op, scope, remote)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestEnvFile_RoundTrip(t *testing.T) {
	in := envFile{
		"A":      "007",
		"B":      `with "quotes" and $HOME`,
		"C":      "line1\nline2",
		"D":      `back\slash`,
		"E":      `it's "quoted"`,
		"F":      `a'b"`,
		"G":      `trail\`,
		"H":      `"leading`,
		"I":      `it's $HOME\n`,
		"J":      ` padded it's `,
		"K":      `x # not a comment`,
		"EMPTY":  "",
		"ESCAPE": `a\$b`,
	}
	data, err := in.render()
	if err != nil {
		t.Fatalf("render() returned error: %v", err)
	}
	out, err := parseEnv(data)
	if err != nil {
		t.Fatalf("parseEnv() returned error: %v", err)
	}
	if diff := cmp.Diff(map[string]string(in), map[string]string(out)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvFile_RenderRejectsUnencodable(t *testing.T) {
	tests := []string{
		`'x"`,
		"line\nend\\",
		` 'x"`,
	}
	for _, v := range tests {
		_, err := envFile{"K": v}.render()
		if !errors.Is(err, failure.ErrValidation) {
			t.Errorf("render(%q) error = %v, want validation failure", v, err)
			continue
		}
		if strings.Contains(err.Error(), v) {
			t.Errorf("render(%q) error leaks the value: %v", v, err)
		}
	}
}

func TestParseEnv_ErrorNamesLineOnly(t *testing.T) {
	data := "APP_NAME='app'\nBAD-KEY='x'\nDB_URL='postgres://app:changeme@db:5432/app'\n"

	_, err := parseEnv([]byte(data))
	if err == nil {
		t.Fatal("parseEnv() returned nil error for a malformed file")
	}
	for _, leak := range []string{"changeme", "BAD-KEY", "app"} {
		if strings.Contains(err.Error(), leak) {
			t.Errorf("parseEnv() error %q contains %q", err, leak)
		}
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("parseEnv() error = %q, want it to name line 2", err)
	}
}

func TestAdapter_ReadDeployedMalformedFileHidesValues(t *testing.T) {
	dir := t.TempDir()
	target := localTarget()
	target.Path = filepath.Join(dir, ".env")
	if err := os.WriteFile(target.Path, []byte("DB_URL=\"postgres://app:changeme@db/app\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := New(dir, nil, nil).ReadDeployed(context.Background(), target)
	if !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("ReadDeployed() error = %v, want validation failure", err)
	}
	if strings.Contains(err.Error(), "changeme") {
		t.Errorf("ReadDeployed() error leaks the value: %v", err)
	}
}

func localTarget() ports.DeployTarget {
	return ports.DeployTarget{
		Scope:     scope,
		Target:    policy.Target{ID: "dev", Set: policy.Set{Provider: policy.ProviderFileInject}},
		Transport: policy.TransportLocal,
		Path:      "deploy/dev.env",
	}
}

func TestAdapter_LocalApplyPreservesExcludedKeys(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "deploy", "dev.env")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("DEPLOY_ROLE_ARN=arn:aws:iam::1:role/old\nSTALE=1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	a := New(root, envstate.NewIAMPredicate([]string{"*_ROLE_ARN"}), nil)
	target := localTarget()

	deployed, err := a.ReadDeployed(ctx, target)
	if err != nil {
		t.Fatalf("ReadDeployed() returned error: %v", err)
	}
	diff, err := a.Plan(desiredState(), deployed)
	if err != nil {
		t.Fatal(err)
	}
	cs, advisories := envstate.BuildChangeset(desiredState(), diff)
	if len(advisories) != 1 || advisories[0].Key != "DEPLOY_ROLE_ARN" {
		t.Fatalf("expected IAM advisory, got %+v", advisories)
	}

	if _, err := a.Apply(ctx, target, cs, token(t, approval.OpApply, false)); err != nil {
		t.Fatalf("Apply() returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := parseEnv(data)
	if got["DEPLOY_ROLE_ARN"] != "arn:aws:iam::1:role/old" {
		t.Errorf("IAM key must keep its value, got %q", got["DEPLOY_ROLE_ARN"])
	}
	if _, ok := got["STALE"]; ok {
		t.Error("removed key should be deleted")
	}
	if got["APP_PORT"] != "007" || got["DB_URL"] != `postgres://u:p"$x@db/app` {
		t.Errorf("unexpected content: %v", got)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600, got %o", info.Mode().Perm())
	}
	raw, err := os.ReadFile(path + MetaSuffix)
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	if strings.Contains(string(raw), "postgres://") {
		t.Error("sidecar must hold hashes only")
	}

	// Second pass: nothing pending except the IAM advisory
	deployed, err = a.ReadDeployed(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	diff, _ = a.Plan(desiredState(), deployed)
	cs, _ = envstate.BuildChangeset(desiredState(), diff)
	if !cs.Empty() {
		t.Errorf("second apply should be empty, got %v", cs.Keys())
	}
	res, _ := a.Verify(desiredState(), deployed)
	if !res.Passed() || len(res.Advisories) != 1 {
		t.Errorf("expected pass with one advisory, got %+v", res)
	}
}

func TestAdapter_NoDecommission(t *testing.T) {
	var adapter ports.ProviderAdapter = New(t.TempDir(), nil, nil)
	if _, ok := adapter.(ports.Decommissioner); ok {
		t.Fatal("file-inject must not implement decommission")
	}
	if _, ok := adapter.(ports.Rotator); !ok {
		t.Fatal("file-inject must implement rotate")
	}
}

func TestAdapter_LocalRotate(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a := New(root, nil, nil)
	target := localTarget()

	deployed, _ := a.ReadDeployed(ctx, target)
	diff, _ := a.Plan(desiredState(), deployed)
	cs, _ := envstate.BuildChangeset(desiredState(), diff)
	if _, err := a.Apply(ctx, target, cs, token(t, approval.OpApply, false)); err != nil {
		t.Fatal(err)
	}

	rotated := envstate.Entry{Key: "DB_URL", Secret: true, Handle: secret.NewHandle("db_url", []byte("postgres://new"))}
	log, err := a.Rotate(ctx, target, "db_url", []envstate.Entry{rotated}, token(t, approval.OpRotate, false))
	if err != nil {
		t.Fatalf("Rotate() returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"DB_URL"}, log.Keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	data, _ := os.ReadFile(filepath.Join(root, "deploy", "dev.env"))
	got, _ := parseEnv(data)
	if got["DB_URL"] != "postgres://new" || got["LOG_LEVEL"] != "debug" {
		t.Errorf("unexpected content after rotate: %v", got)
	}
}

// memHost is an in-memory remote host
type memHost struct {
	mu    sync.Mutex
	files map[string][]byte
	cmds  []string
	fail  error
}

type memSession struct{ h *memHost }

func (s memSession) ReadFile(_ context.Context, path string) ([]byte, bool, error) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	data, ok := s.h.files[path]
	return data, ok, nil
}

func (s memSession) WriteFile(_ context.Context, path string, data []byte, _ string) error {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	s.h.files[path] = append([]byte(nil), data...)
	return nil
}

func (s memSession) Run(_ context.Context, cmd string, _ []byte) (string, error) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	s.h.cmds = append(s.h.cmds, cmd)
	return "", nil
}

func (s memSession) Close() error { return nil }

type memDialer struct {
	hosts map[string]*memHost
}

func (d *memDialer) Open(_ context.Context, host policy.Host, _ policy.SSH) (HostSession, error) {
	h := d.hosts[host.Address]
	if h.fail != nil {
		return nil, h.fail
	}
	return memSession{h: h}, nil
}

func remoteTarget(hosts ...string) ports.DeployTarget {
	inj := &policy.Injection{
		Transport:    policy.TransportRemote,
		Target:       "/srv/{env}/.env",
		PreCommands:  []string{"systemctl stop app"},
		PostCommands: []string{"systemctl start app"},
	}
	for _, h := range hosts {
		inj.Hosts = append(inj.Hosts, policy.Host{Address: h})
	}
	return ports.DeployTarget{
		Scope:     scope,
		Target:    policy.Target{ID: "dev-remote", Set: policy.Set{Provider: policy.ProviderFileInject, Injection: inj}},
		Transport: policy.TransportRemote,
		Path:      "/srv/dev/.env",
	}
}

func newMemDialer(names ...string) *memDialer {
	d := &memDialer{hosts: map[string]*memHost{}}
	for _, n := range names {
		d.hosts[n] = &memHost{files: map[string][]byte{}}
	}
	return d
}

func TestAdapter_RemoteApply(t *testing.T) {
	ctx := context.Background()
	dialer := newMemDialer("h1", "h2")
	a := New(t.TempDir(), nil, dialer)
	target := remoteTarget("h1", "h2")

	deployed, err := a.ReadDeployed(ctx, target)
	if err != nil {
		t.Fatalf("ReadDeployed() returned error: %v", err)
	}
	diff, _ := a.Plan(desiredState(), deployed)
	cs, _ := envstate.BuildChangeset(desiredState(), diff)

	// An apply token without remote approval is rejected before any host is touched
	if _, err := a.Apply(ctx, target, cs, token(t, approval.OpApply, false)); !errors.Is(err, failure.ErrApprovalRejected) {
		t.Fatalf("expected approval rejected, got %v", err)
	}
	if len(dialer.hosts["h1"].files) != 0 {
		t.Fatal("host touched without remote approval")
	}

	log, err := a.Apply(ctx, target, cs, token(t, approval.OpApply, true))
	if err != nil {
		t.Fatalf("Apply() returned error: %v", err)
	}
	if len(log.Hosts) != 2 || log.Hosts[0].Status != ports.StepOK || log.Hosts[1].Status != ports.StepOK {
		t.Errorf("unexpected host results %+v", log.Hosts)
	}
	for _, name := range []string{"h1", "h2"} {
		h := dialer.hosts[name]
		if _, ok := h.files["/srv/dev/.env"+MetaSuffix]; !ok {
			t.Errorf("%s: sidecar missing", name)
		}
		if diff := cmp.Diff([]string{"systemctl stop app", "systemctl start app"}, h.cmds); diff != "" {
			t.Errorf("%s: commands mismatch (-want +got):\n%s", name, diff)
		}
	}

	deployed, err = a.ReadDeployed(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	diff, _ = a.Plan(desiredState(), deployed)
	if !diff.Empty() {
		t.Errorf("expected empty diff after apply, got %+v", diff.Pending())
	}
}

func TestAdapter_RemoteDivergence(t *testing.T) {
	dialer := newMemDialer("h1", "h2")
	dialer.hosts["h1"].files["/srv/dev/.env"] = []byte("LOG_LEVEL=debug\n")
	dialer.hosts["h2"].files["/srv/dev/.env"] = []byte("LOG_LEVEL=info\n")
	a := New(t.TempDir(), nil, dialer)

	deployed, err := a.ReadDeployed(context.Background(), remoteTarget("h1", "h2"))
	if err != nil {
		t.Fatalf("ReadDeployed() returned error: %v", err)
	}
	if deployed.Hashes["LOG_LEVEL"] != Divergent {
		t.Errorf("expected divergent hash, got %q", deployed.Hashes["LOG_LEVEL"])
	}
	if deployed.Metadata["divergent_keys"] != "LOG_LEVEL" {
		t.Errorf("unexpected metadata %v", deployed.Metadata)
	}
}

func TestAdapter_RemotePartialFailure(t *testing.T) {
	dialer := newMemDialer("h1", "h2")
	dialer.hosts["h2"].fail = errors.New("ssh: handshake failed: ssh: unable to authenticate")
	a := New(t.TempDir(), nil, dialer)
	target := remoteTarget("h1", "h2")

	cs := envstate.Changeset{Scope: scope, Set: []envstate.Entry{{Key: "LOG_LEVEL", Literal: "debug"}}}
	log, err := a.Apply(context.Background(), target, cs, token(t, approval.OpApply, true))
	if !errors.Is(err, failure.ErrPartialHosts) {
		t.Fatalf("expected partial multi-host failure, got %v", err)
	}
	if failure.ExitCode(err) != failure.ExitAdapter {
		t.Errorf("expected exit 4, got %d", failure.ExitCode(err))
	}
	if log.Hosts[0].Status != ports.StepOK || log.Hosts[1].Status != ports.StepFailed {
		t.Errorf("per-host results not surfaced: %+v", log.Hosts)
	}
	if log.Hosts[1].Kind != string(failure.KindAuth) {
		t.Errorf("expected auth failure kind, got %s", log.Hosts[1].Kind)
	}
	if _, ok := dialer.hosts["h1"].files["/srv/dev/.env"]; !ok {
		t.Error("healthy host should still be updated")
	}
}

func TestAdapter_RemoteRequiresAbsolutePath(t *testing.T) {
	target := remoteTarget("h1")
	target.Path = "relative/.env"
	_, err := New(t.TempDir(), nil, newMemDialer("h1")).ReadDeployed(context.Background(), target)
	if !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
