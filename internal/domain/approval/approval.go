// Package approval implements the explicit, per-invocation approval gate
// that separates read-only operations from mutating ones.
package approval

import (
	"sync"

	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

// Operation names a mutating operation.
type Operation string

const (
	OpApply        Operation = "apply"
	OpRotate       Operation = "rotate"
	OpDecommission Operation = "decommission"
)

// Capabilities carries the caller's explicit approval flags. It is passed
// down by value; there is no package-level approval state.
type Capabilities struct {
	Approve       bool
	ApproveRemote bool
}

// Token authorizes exactly one mutating call for one scope.
type Token struct {
	op     Operation
	scope  envstate.Scope
	remote bool

	mu   sync.Mutex
	used bool
}

// Grant mints a token when caps carry the approvals op needs. Remote
// transports additionally require ApproveRemote.
func Grant(caps Capabilities, op Operation, scope envstate.Scope, remote bool) (*Token, error) {
	if !caps.Approve {
		return nil, failure.ApprovalRejected(
			"re-run with --approve after reviewing the plan output",
			"%s on %s requires --approve", op, scope)
	}
	if remote && !caps.ApproveRemote {
		return nil, failure.ApprovalRejected(
			"remote transport runs commands on other hosts; re-run with --approve --approve-remote",
			"%s on %s over remote transport requires --approve-remote", op, scope)
	}
	return &Token{op: op, scope: scope, remote: remote}, nil
}

// Remote reports whether the token covers remote transport.
func (t *Token) Remote() bool {
	return t != nil && t.remote
}

// Consume validates the token for op and scope and marks it used. A nil,
// mis-scoped or already-used token is rejected.
func (t *Token) Consume(op Operation, scope envstate.Scope) error {
	if t == nil {
		return failure.ApprovalRejected("pass --approve", "%s on %s: no approval token", op, scope)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.op != op || t.scope != scope {
		return failure.ApprovalRejected("",
			"approval token for %s on %s does not cover %s on %s", t.op, t.scope, op, scope)
	}
	if t.used {
		return failure.ApprovalRejected("re-run the command with a fresh --approve",
			"approval token for %s on %s was already used", op, scope)
	}
	t.used = true
	return nil
}

// RequireRemote rejects tokens that were not granted for remote transport.
func (t *Token) RequireRemote(op Operation, scope envstate.Scope) error {
	if !t.Remote() {
		return failure.ApprovalRejected("pass --approve-remote",
			"%s on %s over remote transport requires --approve-remote", op, scope)
	}
	return nil
}
