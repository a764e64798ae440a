package ports

import (
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

// Skeleton is the validated, not yet secret-resolved desired state.
type Skeleton struct {
	Scope    envstate.Scope
	Contract *envstate.Contract

	// Values holds literal values for non-secret keys (overlay, then default)
	Values map[string]string

	// SecretRefs holds the references the contract uses, by ref name
	SecretRefs map[string]secret.Reference

	// Warnings are non-fatal findings (legacy or deprecated keys)
	Warnings []string
}

// ContractRepository loads the SSOT files from the root.
// This follows the Repository pattern and Dependency Inversion Principle
type ContractRepository interface {
	// Load parses and validates contract, overlay and secret refs for scope
	Load(scope envstate.Scope) (*Skeleton, error)

	// LoadPolicy parses and validates the routing policy
	LoadPolicy() (*policy.Policy, error)

	// Root returns the SSOT root directory
	Root() string
}
