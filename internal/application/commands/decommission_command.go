package commands

import (
	"context"

	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// DecommissionCommand tears down the deployed configuration of a scope
type DecommissionCommand struct {
	Scope  envstate.Scope
	Remote bool
	Caps   approval.Capabilities
}

// DecommissionCommandHandler handles the decommission command
type DecommissionCommandHandler struct {
	builder  *desired.Builder
	locker   ports.Locker
	recorder *report.Recorder
}

// NewDecommissionCommandHandler creates a new decommission command handler
func NewDecommissionCommandHandler(builder *desired.Builder, locker ports.Locker, recorder *report.Recorder) *DecommissionCommandHandler {
	return &DecommissionCommandHandler{builder: builder, locker: locker, recorder: recorder}
}

// Handle executes the decommission command
func (h *DecommissionCommandHandler) Handle(ctx context.Context, cmd DecommissionCommand) (*report.Report, error) {
	rep := h.recorder.Start(string(approval.OpDecommission), cmd.Scope)

	res, err := h.builder.Build(ctx, desired.Request{Scope: cmd.Scope, Remote: cmd.Remote})
	if err != nil {
		return rep, h.recorder.Finish(ctx, rep, nil, err)
	}
	rep.Route(res.Target, res.Skeleton.Warnings)

	err = h.recorder.Finish(ctx, rep, res.Desired, h.decommission(ctx, cmd, res, rep))
	if rep.Execution != nil {
		h.recorder.Notify(ctx, rep)
	}
	return rep, err
}

func (h *DecommissionCommandHandler) decommission(ctx context.Context, cmd DecommissionCommand, res *desired.Result, rep *report.Report) error {
	// Capability is checked before approval
	d, ok := res.Adapter.(ports.Decommissioner)
	if !ok {
		return failure.NotImplemented(res.Adapter.Name(), "decommission")
	}

	token, err := approval.Grant(cmd.Caps, approval.OpDecommission, cmd.Scope, res.Target.Remote())
	if err != nil {
		return err
	}

	return withLock(h.locker, res, func() error {
		ui.Step("Decommissioning %s (%s)", cmd.Scope, res.Adapter.Name())
		log, err := d.Decommission(ctx, res.Target, token)
		rep.Execution = log
		if err != nil {
			return err
		}

		after, err := res.Adapter.ReadDeployed(ctx, res.Target)
		if err != nil {
			return err
		}
		if after.Exists || len(after.Hashes) > 0 {
			return failure.VerificationFailed("inspect the provider state and re-run decommission",
				"%s still reports %d deployed key(s) after decommission", cmd.Scope, len(after.Hashes))
		}
		ui.Successf("Decommissioned %s", cmd.Scope)
		return nil
	})
}
