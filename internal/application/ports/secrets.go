package ports

import (
	"context"

	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

// SecretBackend fetches raw secret bytes for a reference
type SecretBackend interface {
	Name() secret.Backend
	Fetch(ctx context.Context, ref secret.Reference) ([]byte, error)
}

// SecretResolver resolves references into handles
type SecretResolver interface {
	Resolve(ctx context.Context, ref secret.Reference) (*secret.Handle, error)
}

// SecretGenerator is implemented by backends that can store a new value
type SecretGenerator interface {
	Generate(ctx context.Context, ref secret.Reference) error
}

// SecretRotator resolves secrets and regenerates them where the backend
// allows it
type SecretRotator interface {
	SecretResolver

	// Regenerate stores a new value for ref. It reports false when the
	// backend only reads secrets, which leaves rotation to the backend's
	// owner.
	Regenerate(ctx context.Context, ref secret.Reference) (bool, error)
}
