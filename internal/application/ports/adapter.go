package ports

import (
	"context"
	"time"

	"github.com/vivekkundariya/envctl/internal/domain/approval"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
)

// ProviderAdapter is the pluggable boundary translating desired-state
// operations into provider-specific actions.
// Plan and Verify are pure; Apply is the only mandatory mutating method and
// it rejects calls without a valid approval token.
type ProviderAdapter interface {
	Name() string

	Plan(desired *envstate.DesiredState, deployed *envstate.DeployedState) (envstate.Diff, error)

	ReadDeployed(ctx context.Context, target DeployTarget) (*envstate.DeployedState, error)

	Apply(ctx context.Context, target DeployTarget, changes envstate.Changeset, token *approval.Token) (*ExecutionLog, error)

	Verify(desired *envstate.DesiredState, deployed *envstate.DeployedState) (envstate.VerificationResult, error)
}

// Rotator is implemented by adapters that can re-inject a single secret
type Rotator interface {
	Rotate(ctx context.Context, target DeployTarget, secretRef string, entries []envstate.Entry, token *approval.Token) (*ExecutionLog, error)
}

// Decommissioner is implemented by adapters that can tear down an environment
type Decommissioner interface {
	Decommission(ctx context.Context, target DeployTarget, token *approval.Token) (*ExecutionLog, error)
}

// AdapterRegistry builds the adapter for a provider. isIAM classifies keys
// that only exist on the deployed side.
type AdapterRegistry interface {
	Adapter(provider string, isIAM envstate.IAMPredicate) (ProviderAdapter, error)
	Providers() []string
}

// DeployTarget is a routed policy target with templates expanded
type DeployTarget struct {
	Scope     envstate.Scope
	Target    policy.Target
	Transport string

	// Path is the expanded injection target (file-inject) or empty
	Path string
}

// Remote reports whether the target uses remote transport
func (t DeployTarget) Remote() bool {
	return t.Transport == policy.TransportRemote
}

// StepStatus is the outcome of one execution step
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Step is one recorded action of a mutating operation
type Step struct {
	Name   string     `json:"name"`
	Host   string     `json:"host,omitempty"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	At     time.Time  `json:"at"`
}

// HostResult is the per-host outcome of a remote operation
type HostResult struct {
	Host     string        `json:"host"`
	Status   StepStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExecutionLog records what a mutating operation did, step by step
type ExecutionLog struct {
	Operation string       `json:"operation"`
	Provider  string       `json:"provider"`
	Scope     string       `json:"scope"`
	Keys      []string     `json:"keys"`
	Steps     []Step       `json:"steps"`
	Hosts     []HostResult `json:"hosts,omitempty"`
}

// NewExecutionLog starts an empty log
func NewExecutionLog(op, provider string, scope envstate.Scope) *ExecutionLog {
	return &ExecutionLog{Operation: op, Provider: provider, Scope: scope.String()}
}

// Record appends a step
func (l *ExecutionLog) Record(name, host string, status StepStatus, detail string) {
	l.Steps = append(l.Steps, Step{
		Name:   name,
		Host:   host,
		Status: status,
		Detail: detail,
		At:     time.Now().UTC(),
	})
}

// Failed reports whether any step failed
func (l *ExecutionLog) Failed() bool {
	for _, s := range l.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}
