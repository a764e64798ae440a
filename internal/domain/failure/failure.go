// Package failure defines the error kinds envctl reports and the exit code
// each kind maps to.
package failure

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind sentinels. Errors are marked with one of these so callers can
// classify them with errors.Is through any amount of wrapping.
var (
	ErrPrecondition       = errors.New("precondition failure")
	ErrValidation         = errors.New("validation failure")
	ErrApprovalRejected   = errors.New("approval rejected")
	ErrBackendUnsupported = errors.New("secret backend unsupported")
	ErrUnreachable        = errors.New("adapter unreachable")
	ErrTimeout            = errors.New("adapter timeout")
	ErrAuth               = errors.New("authentication failure")
	ErrPartialHosts       = errors.New("partial multi-host failure")
	ErrNotImplemented     = errors.New("not implemented for provider")
	ErrVerification       = errors.New("verification failed")
)

// Exit codes returned by the CLI.
const (
	ExitOK             = 0
	ExitPrecondition   = 1
	ExitValidation     = 2
	ExitApproval       = 3
	ExitAdapter        = 4
	ExitNotImplemented = 5
)

// Kind is a short label for a classified error.
type Kind string

const (
	KindPrecondition       Kind = "PreconditionFailure"
	KindValidation         Kind = "ValidationFailure"
	KindApprovalRejected   Kind = "ApprovalRejected"
	KindBackendUnsupported Kind = "SecretBackendUnsupported"
	KindUnreachable        Kind = "AdapterUnreachable"
	KindTimeout            Kind = "AdapterTimeout"
	KindAuth               Kind = "AuthFailure"
	KindPartialHosts       Kind = "PartialMultiHostFailure"
	KindNotImplemented     Kind = "NotImplementedForProvider"
	KindVerification       Kind = "VerificationFailed"
	KindUnknown            Kind = "Unknown"
)

// order matters: the more specific marks are checked first.
var kinds = []struct {
	sentinel error
	kind     Kind
	code     int
}{
	{ErrNotImplemented, KindNotImplemented, ExitNotImplemented},
	{ErrApprovalRejected, KindApprovalRejected, ExitApproval},
	{ErrBackendUnsupported, KindBackendUnsupported, ExitValidation},
	{ErrValidation, KindValidation, ExitValidation},
	{ErrPrecondition, KindPrecondition, ExitPrecondition},
	{ErrPartialHosts, KindPartialHosts, ExitAdapter},
	{ErrVerification, KindVerification, ExitAdapter},
	{ErrTimeout, KindTimeout, ExitAdapter},
	{ErrAuth, KindAuth, ExitAdapter},
	{ErrUnreachable, KindUnreachable, ExitAdapter},
}

func newf(sentinel error, hint string, format string, args ...any) error {
	err := errors.Mark(errors.Newf(format, args...), sentinel)
	if hint != "" {
		err = errors.WithHint(err, hint)
	}
	return err
}

// Precondition reports missing SSOT files, policy matches or locks.
func Precondition(hint, format string, args ...any) error {
	return newf(ErrPrecondition, hint, format, args...)
}

// Validation reports contract/overlay/secret-ref mismatches.
func Validation(hint, format string, args ...any) error {
	return newf(ErrValidation, hint, format, args...)
}

// ApprovalRejected reports a missing or invalid approval.
func ApprovalRejected(hint, format string, args ...any) error {
	return newf(ErrApprovalRejected, hint, format, args...)
}

// BackendUnsupported reports an unknown secret backend.
func BackendUnsupported(hint, format string, args ...any) error {
	return newf(ErrBackendUnsupported, hint, format, args...)
}

// NotImplemented reports a capability the selected provider lacks.
func NotImplemented(provider, operation string) error {
	return newf(ErrNotImplemented,
		"use a provider that supports "+operation+" or perform it through the provider's own tooling",
		"%s is not implemented for provider %q", operation, provider)
}

// VerificationFailed reports deployed state that does not match desired
// state after the fact.
func VerificationFailed(hint, format string, args ...any) error {
	return newf(ErrVerification, hint, format, args...)
}

// Mark attaches a kind to an existing error.
func Mark(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, sentinel)
}

// Classify maps a transport error into Timeout, AuthFailure or Unreachable.
// Errors already carrying a kind are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(err, ErrTimeout)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timed out"):
		return errors.Mark(err, ErrTimeout)
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "accessdenied"),
		strings.Contains(msg, "unrecognizedclient"),
		strings.Contains(msg, "knownhosts"),
		strings.Contains(msg, "host key mismatch"):
		return errors.Mark(err, ErrAuth)
	default:
		return errors.Mark(err, ErrUnreachable)
	}
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindUnknown
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.code
		}
	}
	return ExitPrecondition
}

// Hints returns the remediation hints attached anywhere in the chain.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}
