// Package fileinject is the file-injection provider. It renders a dotenv
// file and writes it locally or to remote hosts over SSH, with a sidecar of
// key hashes next to it.
package fileinject

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
)

const defaultMode = "0600"

// Adapter implements ProviderAdapter and Rotator. Decommission is not
// supported.
type Adapter struct {
	root   string
	isIAM  envstate.IAMPredicate
	dialer HostDialer
	now    func() time.Time
}

// New creates the file-injection adapter. Relative local targets resolve
// against root.
func New(root string, isIAM envstate.IAMPredicate, dialer HostDialer) *Adapter {
	return &Adapter{root: root, isIAM: isIAM, dialer: dialer, now: time.Now}
}

var (
	_ ports.ProviderAdapter = (*Adapter)(nil)
	_ ports.Rotator         = (*Adapter)(nil)
)

func (a *Adapter) Name() string { return policy.ProviderFileInject }

func (a *Adapter) Plan(desired *envstate.DesiredState, deployed *envstate.DeployedState) (envstate.Diff, error) {
	return envstate.Compute(desired, deployed, a.isIAM)
}

func (a *Adapter) Verify(desired *envstate.DesiredState, deployed *envstate.DeployedState) (envstate.VerificationResult, error) {
	diff, err := envstate.Compute(desired, deployed, a.isIAM)
	if err != nil {
		return envstate.VerificationResult{}, err
	}
	return envstate.VerifyDiff(diff), nil
}

func (a *Adapter) ReadDeployed(ctx context.Context, target ports.DeployTarget) (*envstate.DeployedState, error) {
	path, err := a.path(target)
	if err != nil {
		return nil, err
	}
	if target.Remote() {
		return a.readRemote(ctx, target, path)
	}
	return a.readLocal(target, path)
}

func (a *Adapter) Apply(ctx context.Context, target ports.DeployTarget, changes envstate.Changeset, token *approval.Token) (*ports.ExecutionLog, error) {
	return a.inject(ctx, target, approval.OpApply, changes.Set, changes.Delete, token)
}

// Rotate re-injects the entries bound to secretRef, leaving other keys as
// they are
func (a *Adapter) Rotate(ctx context.Context, target ports.DeployTarget, _ string, entries []envstate.Entry, token *approval.Token) (*ports.ExecutionLog, error) {
	return a.inject(ctx, target, approval.OpRotate, entries, nil, token)
}

func (a *Adapter) inject(ctx context.Context, target ports.DeployTarget, op approval.Operation, set []envstate.Entry, del []string, token *approval.Token) (*ports.ExecutionLog, error) {
	if err := token.Consume(op, target.Scope); err != nil {
		return nil, err
	}
	if target.Remote() {
		if err := token.RequireRemote(op, target.Scope); err != nil {
			return nil, err
		}
	}

	path, err := a.path(target)
	if err != nil {
		return nil, err
	}
	mode, err := a.mode(target)
	if err != nil {
		return nil, err
	}

	log := ports.NewExecutionLog(string(op), a.Name(), target.Scope)
	for _, e := range set {
		log.Keys = append(log.Keys, e.Key)
	}
	log.Keys = append(log.Keys, del...)

	if target.Remote() {
		return log, a.injectRemote(ctx, target, path, mode, set, del, log)
	}
	return log, a.injectLocal(target, path, mode, set, del, log)
}

// path returns the injected file path. Local relative paths resolve
// against root; remote paths must be absolute.
func (a *Adapter) path(target ports.DeployTarget) (string, error) {
	path := target.Path
	if path == "" {
		return "", failure.Validation("set set.injection.target on target "+target.Target.ID,
			"target %s has no injection path", target.Target.ID)
	}
	if target.Remote() {
		if !filepath.IsAbs(path) {
			return "", failure.Validation("use an absolute injection.target for remote transport",
				"remote injection path %q of target %s is not absolute", path, target.Target.ID)
		}
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}
	return path, nil
}

func (a *Adapter) mode(target ports.DeployTarget) (string, error) {
	mode := defaultMode
	if inj := target.Target.Set.Injection; inj != nil && inj.Mode != "" {
		mode = inj.Mode
	}
	if _, err := strconv.ParseUint(mode, 8, 32); err != nil {
		return "", failure.Validation("use an octal mode such as 0600",
			"invalid injection mode %q on target %s", mode, target.Target.ID)
	}
	return mode, nil
}

func (a *Adapter) injection(target ports.DeployTarget) policy.Injection {
	if inj := target.Target.Set.Injection; inj != nil {
		return *inj
	}
	return policy.Injection{}
}
