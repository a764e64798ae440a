// Package report holds the per-run report every engine operation produces,
// and the recorder that persists it as evidence.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// Status is the outcome of an operation
type Status string

const (
	StatusOK      Status = "ok"
	StatusNoop    Status = "noop"
	StatusDrifted Status = "drifted"
	StatusFailed  Status = "failed"
)

// Evidence record names
const (
	ReportFile          = "report.json"
	EffectiveConfigFile = "effective-config.json"
	ExecutionLogFile    = "execution.log"
)

// Report is the JSON report of one run. It holds key names, kinds and
// hashes, never secret values.
type Report struct {
	RunID     string `json:"run_id"`
	Operation string `json:"operation"`
	Scope     string `json:"scope"`
	Target    string `json:"target,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Transport string `json:"transport,omitempty"`
	Status    Status `json:"status"`

	Diff         *envstate.Diff               `json:"diff,omitempty"`
	Counts       map[envstate.ChangeKind]int  `json:"counts,omitempty"`
	Advisories   []envstate.Advisory          `json:"advisories,omitempty"`
	Warnings     []string                     `json:"warnings,omitempty"`
	Drifted      bool                         `json:"drifted,omitempty"`
	Execution    *ports.ExecutionLog          `json:"execution,omitempty"`
	Verification *envstate.VerificationResult `json:"verification,omitempty"`
	Deployed     map[string]string            `json:"deployed_metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// notify holds the routed target's channels
	notify policy.Notify

	// Evidence is where the run's evidence was written
	Evidence string `json:"-"`
}

// Route fills the routing fields from a deploy target, along with the
// contract warnings found while loading it
func (r *Report) Route(t ports.DeployTarget, warnings []string) {
	r.Warnings = warnings
	r.Target = t.Target.ID
	r.Provider = t.Target.Set.Provider
	r.Transport = t.Transport
	r.notify = t.Target.Set.Notify
}

// SetDiff stores the diff and its counts
func (r *Report) SetDiff(d envstate.Diff) {
	r.Diff = &d
	r.Counts = d.Counts()
}

// Keys lists the keys the run touched
func (r *Report) Keys() []string {
	if r.Execution == nil {
		return nil
	}
	return r.Execution.Keys
}

// effectiveConfig is the redacted snapshot of the desired state
type effectiveConfig struct {
	Scope    string            `json:"scope"`
	Target   string            `json:"target"`
	Provider string            `json:"provider"`
	Runtime  string            `json:"runtime,omitempty"`
	Values   map[string]string `json:"values"`
	Order    []string          `json:"order"`
}

// Recorder writes evidence and sends notifications
type Recorder struct {
	writer   ports.EvidenceWriter
	notifier ports.Notifier
	newID    func() string
	now      func() time.Time
}

// NewRecorder creates a recorder. notifier may be nil.
func NewRecorder(writer ports.EvidenceWriter, notifier ports.Notifier) *Recorder {
	return &Recorder{
		writer:   writer,
		notifier: notifier,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Start opens a report for op on scope
func (r *Recorder) Start(op string, scope envstate.Scope) *Report {
	return &Report{
		RunID:     r.newID(),
		Operation: op,
		Scope:     scope.String(),
		StartedAt: r.now().UTC(),
	}
}

// Finish closes the report and writes its evidence. opErr is recorded in
// the report and returned; an evidence failure is returned only when the
// operation itself succeeded.
func (r *Recorder) Finish(ctx context.Context, rep *Report, desired *envstate.DesiredState, opErr error) error {
	rep.FinishedAt = r.now().UTC()
	if opErr != nil {
		rep.Status = StatusFailed
		rep.Error = opErr.Error()
		rep.ErrorKind = string(failure.KindOf(opErr))
	} else if rep.Status == "" {
		rep.Status = StatusOK
	}

	records := []ports.Record{{Name: ReportFile, Payload: rep}}
	if desired != nil {
		cfg := effectiveConfig{
			Scope:    desired.Scope.String(),
			Target:   desired.TargetID,
			Provider: desired.Provider,
			Runtime:  desired.Runtime,
			Values:   desired.Effective(),
		}
		for _, e := range desired.Entries {
			cfg.Order = append(cfg.Order, e.Key)
		}
		records = append(records, ports.Record{Name: EffectiveConfigFile, Payload: cfg})
	}
	if rep.Execution != nil {
		records = append(records, ports.Record{Name: ExecutionLogFile, Payload: rep.Execution})
	}

	run := ports.EvidenceRun{ID: rep.RunID, Operation: rep.Operation, Scope: rep.Scope, StartedAt: rep.StartedAt}
	loc, err := r.writer.Write(ctx, run, records)
	if err != nil {
		if opErr != nil {
			ui.Warnf("Failed to write evidence: %v", err)
			return opErr
		}
		return err
	}
	rep.Evidence = loc
	ui.Debug("Evidence written to %s", loc)
	return opErr
}

// Notify publishes the summary of a mutating run. Failures are reported as
// warnings; the run's outcome is already final.
func (r *Recorder) Notify(ctx context.Context, rep *Report) {
	if r.notifier == nil || (rep.notify.SNSTopicARN == "" && rep.notify.SQSQueueURL == "") {
		return
	}
	summary := ports.Summary{
		RunID:     rep.RunID,
		Operation: rep.Operation,
		Scope:     rep.Scope,
		Provider:  rep.Provider,
		Status:    string(rep.Status),
		Keys:      rep.Keys(),
		Evidence:  rep.Evidence,
	}
	if err := r.notifier.Notify(ctx, rep.notify, summary); err != nil {
		ui.Warnf("Failed to send notification: %v", err)
	}
}

// VerificationError returns a VerificationFailed error naming the
// mismatching keys, or nil when v passed
func VerificationError(scope envstate.Scope, v envstate.VerificationResult) error {
	if v.Passed() {
		return nil
	}
	keys := make([]string, 0, len(v.Mismatches))
	for _, c := range v.Mismatches {
		keys = append(keys, c.Key+" ("+string(c.Kind)+")")
	}
	return failure.VerificationFailed("run envctl plan to review, then envctl apply --approve",
		"verification failed for %s: %s", scope, strings.Join(keys, ", "))
}
