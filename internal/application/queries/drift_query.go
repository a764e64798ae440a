package queries

import (
	"context"
	"strings"

	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

// DriftQuery asks whether deployed state has drifted from desired state
type DriftQuery struct {
	Scope  envstate.Scope
	Remote bool

	// FailOnDrift turns detected drift into an error
	FailOnDrift bool
}

// DriftQueryHandler handles drift queries
type DriftQueryHandler struct {
	builder  *desired.Builder
	recorder *report.Recorder
}

// NewDriftQueryHandler creates a new drift query handler
func NewDriftQueryHandler(builder *desired.Builder, recorder *report.Recorder) *DriftQueryHandler {
	return &DriftQueryHandler{builder: builder, recorder: recorder}
}

// Handle reports drift. A scope is drifted when any key apply would manage
// differs; IAM-only differences are advisories.
func (h *DriftQueryHandler) Handle(ctx context.Context, q DriftQuery) (*report.Report, error) {
	rep := h.recorder.Start("drift", q.Scope)

	in, err := inspect(ctx, h.builder, desired.Request{Scope: q.Scope, Remote: q.Remote}, rep)
	if err == nil {
		var cs envstate.Changeset
		cs, rep.Advisories = envstate.BuildChangeset(in.result.Desired, in.diff)
		rep.Drifted = !cs.Empty()
		if rep.Drifted {
			rep.Status = report.StatusDrifted
			if q.FailOnDrift {
				err = failure.VerificationFailed("run envctl plan to review, then envctl apply --approve",
					"%s has drifted: %s", q.Scope, strings.Join(cs.Keys(), ", "))
			}
		}
	}

	return rep, h.recorder.Finish(ctx, rep, desiredOf(in), err)
}
