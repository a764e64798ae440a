package ports

import (
	"context"
	"time"

	"github.com/vivekkundariya/envctl/internal/domain/policy"
)

// Record is one evidence artifact. Payload is marshalled to JSON by the
// writer; secret handles inside it serialize as the redaction marker.
type Record struct {
	Name    string
	Payload any
}

// EvidenceRun groups the artifacts of one invocation
type EvidenceRun struct {
	ID        string
	Operation string
	Scope     string
	StartedAt time.Time
}

// EvidenceWriter persists evidence artifacts
type EvidenceWriter interface {
	// Write stores the records of a run and returns the location written to
	Write(ctx context.Context, run EvidenceRun, records []Record) (string, error)
}

// Summary is the non-secret notification sent after mutating operations
type Summary struct {
	RunID     string   `json:"run_id"`
	Operation string   `json:"operation"`
	Scope     string   `json:"scope"`
	Provider  string   `json:"provider"`
	Status    string   `json:"status"`
	Keys      []string `json:"keys"`
	Evidence  string   `json:"evidence"`
}

// Notifier publishes operation summaries to a target's notify channels
type Notifier interface {
	Notify(ctx context.Context, channels policy.Notify, summary Summary) error
}

// Locker takes the per-scope advisory lock
type Locker interface {
	// Acquire returns a release func, or a precondition error when held
	Acquire(env, workload, provider string) (release func() error, err error)
}
