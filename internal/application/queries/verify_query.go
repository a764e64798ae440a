package queries

import (
	"context"

	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/report"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
)

// VerifyQuery asks the adapter to verify deployed state
type VerifyQuery struct {
	Scope  envstate.Scope
	Remote bool
}

// VerifyQueryHandler handles verify queries
type VerifyQueryHandler struct {
	builder  *desired.Builder
	recorder *report.Recorder
}

// NewVerifyQueryHandler creates a new verify query handler
func NewVerifyQueryHandler(builder *desired.Builder, recorder *report.Recorder) *VerifyQueryHandler {
	return &VerifyQueryHandler{builder: builder, recorder: recorder}
}

// Handle runs Verify. Mismatching keys fail with VerificationFailed.
func (h *VerifyQueryHandler) Handle(ctx context.Context, q VerifyQuery) (*report.Report, error) {
	rep := h.recorder.Start("verify", q.Scope)

	in, err := inspect(ctx, h.builder, desired.Request{Scope: q.Scope, Remote: q.Remote}, rep)
	if err == nil {
		var v envstate.VerificationResult
		v, err = in.result.Adapter.Verify(in.result.Desired, in.deployed)
		if err == nil {
			rep.Verification = &v
			rep.Advisories = v.Advisories
			err = report.VerificationError(q.Scope, v)
		}
	}

	return rep, h.recorder.Finish(ctx, rep, desiredOf(in), err)
}
