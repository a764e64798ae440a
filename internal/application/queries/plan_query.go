package queries

import (
	"context"

	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
)

// PlanQuery asks for the diff between desired and deployed state
type PlanQuery struct {
	Scope  envstate.Scope
	Remote bool
}

// PlanQueryHandler handles plan queries
// This follows the Query pattern (CQRS)
type PlanQueryHandler struct {
	builder  *desired.Builder
	recorder *report.Recorder
}

// NewPlanQueryHandler creates a new plan query handler
func NewPlanQueryHandler(builder *desired.Builder, recorder *report.Recorder) *PlanQueryHandler {
	return &PlanQueryHandler{builder: builder, recorder: recorder}
}

// Handle computes the plan. IAM keys in the diff are listed as advisories
// since apply will leave them out.
func (h *PlanQueryHandler) Handle(ctx context.Context, q PlanQuery) (*report.Report, error) {
	rep := h.recorder.Start("plan", q.Scope)

	in, err := inspect(ctx, h.builder, desired.Request{Scope: q.Scope, Remote: q.Remote}, rep)
	if err == nil {
		_, rep.Advisories = envstate.BuildChangeset(in.result.Desired, in.diff)
		if in.diff.Empty() {
			rep.Status = report.StatusNoop
		}
	}

	return rep, h.recorder.Finish(ctx, rep, desiredOf(in), err)
}
