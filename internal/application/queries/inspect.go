package queries

import (
	"context"

	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
)

// inspection is the read-only core shared by plan, drift and verify
type inspection struct {
	result   *desired.Result
	deployed *envstate.DeployedState
	diff     envstate.Diff
}

// inspect builds desired state, reads deployed state and diffs them. It
// never calls a mutating adapter method.
func inspect(ctx context.Context, builder *desired.Builder, req desired.Request, rep *report.Report) (*inspection, error) {
	res, err := builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	rep.Route(res.Target, res.Skeleton.Warnings)

	deployed, err := res.Adapter.ReadDeployed(ctx, res.Target)
	if err != nil {
		return &inspection{result: res}, err
	}
	rep.Deployed = deployed.Metadata

	diff, err := res.Adapter.Plan(res.Desired, deployed)
	if err != nil {
		return &inspection{result: res, deployed: deployed}, err
	}
	rep.SetDiff(diff)

	return &inspection{result: res, deployed: deployed, diff: diff}, nil
}

// desiredOf returns the desired state of a possibly partial inspection
func desiredOf(in *inspection) *envstate.DesiredState {
	if in == nil || in.result == nil {
		return nil
	}
	return in.result.Desired
}
