// Package mockstore is the mock provider: deployed state is a JSON snapshot
// of key hashes under <root>/.envctl/mock-state.
package mockstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/config"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/infrastructure/fsutil"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// snapshot is the on-disk state
type snapshot struct {
	Scope     string              `json:"scope"`
	Keys      map[string]string   `json:"keys"`
	Rotations map[string]Rotation `json:"rotations,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Rotation records the rotation history of one secret ref
type Rotation struct {
	Version   int       `json:"version"`
	RotatedAt time.Time `json:"rotated_at"`
}

// Adapter implements ProviderAdapter, Rotator and Decommissioner
type Adapter struct {
	root  string
	isIAM envstate.IAMPredicate
	now   func() time.Time
}

// New creates the mock adapter for root
func New(root string, isIAM envstate.IAMPredicate) *Adapter {
	return &Adapter{root: root, isIAM: isIAM, now: time.Now}
}

var (
	_ ports.ProviderAdapter = (*Adapter)(nil)
	_ ports.Rotator         = (*Adapter)(nil)
	_ ports.Decommissioner  = (*Adapter)(nil)
)

func (a *Adapter) Name() string { return policy.ProviderMock }

// StatePath returns the snapshot file for scope
func (a *Adapter) StatePath(scope envstate.Scope) string {
	name := scope.Env
	if scope.Workload != "" {
		name += "__" + scope.Workload
	}
	return filepath.Join(a.root, config.StateDir, "mock-state", name+".json")
}

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

func (a *Adapter) ReadDeployed(_ context.Context, target ports.DeployTarget) (*envstate.DeployedState, error) {
	state := envstate.NewDeployedState(target.Scope)
	path := a.StatePath(target.Scope)
	state.Metadata["state_file"] = path

	snap, found, err := a.load(path)
	if err != nil || !found {
		return state, err
	}
	for k, h := range snap.Keys {
		state.Hashes[k] = h
	}
	state.Exists = true
	state.UpdatedAt = snap.UpdatedAt
	return state, nil
}

func (a *Adapter) Apply(_ context.Context, target ports.DeployTarget, changes envstate.Changeset, token *approval.Token) (*ports.ExecutionLog, error) {
	if err := token.Consume(approval.OpApply, target.Scope); err != nil {
		return nil, err
	}

	log := ports.NewExecutionLog(string(approval.OpApply), a.Name(), target.Scope)
	log.Keys = changes.Keys()
	err := a.update(target.Scope, log, false, func(snap *snapshot) error {
		for _, e := range changes.Set {
			h, err := e.Hash()
			if err != nil {
				return err
			}
			snap.Keys[e.Key] = h
		}
		for _, k := range changes.Delete {
			delete(snap.Keys, k)
		}
		return nil
	})
	return log, err
}

// Rotate stores the new hashes of the entries bound to secretRef and bumps
// its rotation version. The scope must already be deployed.
func (a *Adapter) Rotate(_ context.Context, target ports.DeployTarget, secretRef string, entries []envstate.Entry, token *approval.Token) (*ports.ExecutionLog, error) {
	if err := token.Consume(approval.OpRotate, target.Scope); err != nil {
		return nil, err
	}

	log := ports.NewExecutionLog(string(approval.OpRotate), a.Name(), target.Scope)
	for _, e := range entries {
		log.Keys = append(log.Keys, e.Key)
	}
	var version int
	err := a.update(target.Scope, log, true, func(snap *snapshot) error {
		for _, e := range entries {
			h, err := e.Hash()
			if err != nil {
				return err
			}
			snap.Keys[e.Key] = h
		}
		if snap.Rotations == nil {
			snap.Rotations = make(map[string]Rotation)
		}
		version = snap.Rotations[secretRef].Version + 1
		snap.Rotations[secretRef] = Rotation{Version: version, RotatedAt: a.now().UTC()}
		return nil
	})
	if err == nil {
		log.Record("rotate", "", ports.StepOK, fmt.Sprintf("%s version %d", secretRef, version))
		ui.Debug("Rotated %s for %s to version %d", secretRef, target.Scope, version)
	}
	return log, err
}

// Decommission removes the snapshot for target's scope
func (a *Adapter) Decommission(_ context.Context, target ports.DeployTarget, token *approval.Token) (*ports.ExecutionLog, error) {
	if err := token.Consume(approval.OpDecommission, target.Scope); err != nil {
		return nil, err
	}

	log := ports.NewExecutionLog(string(approval.OpDecommission), a.Name(), target.Scope)
	path := a.StatePath(target.Scope)
	if snap, found, err := a.load(path); err == nil && found {
		for k := range snap.Keys {
			log.Keys = append(log.Keys, k)
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Record("remove_state", "", ports.StepFailed, err.Error())
		return log, failure.Mark(fmt.Errorf("failed to remove %s: %w", path, err), failure.ErrUnreachable)
	}
	log.Record("remove_state", "", ports.StepOK, path)
	return log, nil
}

// update rewrites the snapshot of scope. mustExist refuses to create one.
func (a *Adapter) update(scope envstate.Scope, log *ports.ExecutionLog, mustExist bool, mutate func(*snapshot) error) error {
	path := a.StatePath(scope)
	snap, found, err := a.load(path)
	if err != nil {
		log.Record("read_state", "", ports.StepFailed, err.Error())
		return err
	}
	if !found && mustExist {
		log.Record("read_state", "", ports.StepFailed, "no deployed state")
		return failure.Precondition("run envctl apply --approve first",
			"nothing is deployed for %s; apply before rotating", scope)
	}
	log.Record("read_state", "", ports.StepOK, path)

	if err := mutate(snap); err != nil {
		log.Record("compute", "", ports.StepFailed, err.Error())
		return err
	}

	snap.Scope = scope.String()
	snap.UpdatedAt = a.now().UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := fsutil.WriteFileAtomic(path, append(data, '\n'), 0600); err != nil {
		log.Record("write_state", "", ports.StepFailed, err.Error())
		return failure.Mark(err, failure.ErrUnreachable)
	}
	log.Record("write_state", "", ports.StepOK, path)
	return nil
}

func (a *Adapter) load(path string) (*snapshot, bool, error) {
	snap := &snapshot{Keys: map[string]string{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, false, nil
		}
		return nil, false, failure.Mark(fmt.Errorf("failed to read %s: %w", path, err), failure.ErrUnreachable)
	}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, false, failure.Validation("delete "+path+" to reset the mock state",
			"corrupt mock state %s: %v", path, err)
	}
	if snap.Keys == nil {
		snap.Keys = map[string]string{}
	}
	return snap, true, nil
}
