package commands

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// RotateCommand regenerates one secret ref where its backend allows it and
// re-injects the keys bound to it
type RotateCommand struct {
	Scope  envstate.Scope
	Remote bool
	Caps   approval.Capabilities
	Secret string
}

// RotateCommandHandler handles the rotate command
type RotateCommandHandler struct {
	builder  *desired.Builder
	locker   ports.Locker
	recorder *report.Recorder
	secrets  ports.SecretRotator
}

// NewRotateCommandHandler creates a new rotate command handler
func NewRotateCommandHandler(builder *desired.Builder, locker ports.Locker, recorder *report.Recorder, secrets ports.SecretRotator) *RotateCommandHandler {
	return &RotateCommandHandler{builder: builder, locker: locker, recorder: recorder, secrets: secrets}
}

// Handle executes the rotate command
func (h *RotateCommandHandler) Handle(ctx context.Context, cmd RotateCommand) (*report.Report, error) {
	rep := h.recorder.Start(string(approval.OpRotate), cmd.Scope)

	if cmd.Secret == "" {
		err := failure.Validation("pass --secret <secret_ref name>", "rotate needs a secret to rotate")
		return rep, h.recorder.Finish(ctx, rep, nil, err)
	}

	res, err := h.builder.Build(ctx, desired.Request{Scope: cmd.Scope, Remote: cmd.Remote})
	if err != nil {
		return rep, h.recorder.Finish(ctx, rep, nil, err)
	}
	rep.Route(res.Target, res.Skeleton.Warnings)

	err = h.recorder.Finish(ctx, rep, res.Desired, h.rotate(ctx, cmd, res, rep))
	if rep.Execution != nil {
		h.recorder.Notify(ctx, rep)
	}
	return rep, err
}

func (h *RotateCommandHandler) rotate(ctx context.Context, cmd RotateCommand, res *desired.Result, rep *report.Report) error {
	rotator, ok := res.Adapter.(ports.Rotator)
	if !ok {
		return failure.NotImplemented(res.Adapter.Name(), "rotate")
	}

	vars := res.Skeleton.Contract.UsingSecretRef(cmd.Secret)
	if len(vars) == 0 {
		return failure.Validation("pass a secret_ref used by env/contract.yaml",
			"no contract variable uses secret_ref %s", cmd.Secret)
	}

	var entries []envstate.Entry
	var keys []string
	for _, v := range vars {
		e, found := res.Desired.Lookup(v.Key)
		if !found {
			continue
		}
		if e.IAM {
			rep.Advisories = append(rep.Advisories, envstate.Advisory{
				Key:    e.Key,
				Kind:   envstate.Changed,
				Reason: "identity/access key excluded from rotation; rotate it through the provider's IAM workflow",
			})
			continue
		}
		entries = append(entries, e)
		keys = append(keys, e.Key)
	}
	if len(entries) == 0 {
		ui.Infof("Nothing to rotate for %s", cmd.Secret)
		rep.Status = report.StatusNoop
		return nil
	}

	token, err := approval.Grant(cmd.Caps, approval.OpRotate, cmd.Scope, res.Target.Remote())
	if err != nil {
		return err
	}

	return withLock(h.locker, res, func() error {
		deployed, err := res.Adapter.ReadDeployed(ctx, res.Target)
		if err != nil {
			return err
		}
		if !deployed.Exists {
			return failure.Precondition("run envctl apply --approve first",
				"nothing is deployed for %s; apply before rotating", cmd.Scope)
		}

		generated, err := h.regenerate(ctx, res, cmd.Secret, entries)
		if err != nil {
			return err
		}

		ui.Step("Rotating %s (%d key(s)) on %s", cmd.Secret, len(entries), cmd.Scope)
		log, err := rotator.Rotate(ctx, res.Target, cmd.Secret, entries, token)
		if generated {
			if log == nil {
				log = ports.NewExecutionLog(string(approval.OpRotate), res.Adapter.Name(), cmd.Scope)
			}
			log.Steps = append([]ports.Step{{
				Name:   "generate_secret",
				Status: ports.StepOK,
				Detail: cmd.Secret,
				At:     time.Now().UTC(),
			}}, log.Steps...)
		}
		rep.Execution = log
		if err != nil {
			return err
		}
		return verifyAfter(ctx, res, rep, keys)
	})
}

// regenerate stores a new value for the secret when its backend can mint
// one, and points entries and the desired state at it. Backends that only
// read keep their current value, which is re-injected as is.
func (h *RotateCommandHandler) regenerate(ctx context.Context, res *desired.Result, name string, entries []envstate.Entry) (bool, error) {
	ref, ok := res.Skeleton.SecretRefs[name]
	if !ok || h.secrets == nil {
		return false, nil
	}
	minted, err := h.secrets.Regenerate(ctx, ref)
	if err != nil || !minted {
		return false, err
	}
	handle, err := h.secrets.Resolve(ctx, ref)
	if err != nil {
		return true, errors.Wrapf(err, "resolve regenerated secret %s", name)
	}
	ui.Infof("Generated a new value for %s", name)

	bound := make(map[string]bool, len(entries))
	for i := range entries {
		entries[i].Handle = handle
		bound[entries[i].Key] = true
	}
	for i, e := range res.Desired.Entries {
		if bound[e.Key] {
			res.Desired.Entries[i].Handle = handle
		}
	}
	return true, nil
}
