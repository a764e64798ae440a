package secrets

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

// Registry dispatches references to the backend named by their backend field
type Registry struct {
	backends map[secret.Backend]ports.SecretBackend
	timeout  time.Duration
}

// NewRegistry creates a resolver over backends. Every Fetch is bounded by
// timeout when it is positive.
func NewRegistry(timeout time.Duration, backends ...ports.SecretBackend) *Registry {
	r := &Registry{
		backends: make(map[secret.Backend]ports.SecretBackend, len(backends)),
		timeout:  timeout,
	}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds or replaces a backend
func (r *Registry) Register(b ports.SecretBackend) {
	r.backends[b.Name()] = b
}

// Supported returns the registered backend names, sorted
func (r *Registry) Supported() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Resolve fetches ref through its backend and wraps the value in a handle
func (r *Registry) Resolve(ctx context.Context, ref secret.Reference) (*secret.Handle, error) {
	backend, err := r.backend(ref)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()

	value, err := backend.Fetch(ctx, ref)
	if err != nil {
		return nil, errors.Wrapf(failure.Classify(err), "failed to resolve secret %s (%s)", ref.Name, ref.Backend)
	}
	return secret.NewHandle(ref.Name, value), nil
}

// Regenerate asks ref's backend for a new value. Backends that only read
// report false.
func (r *Registry) Regenerate(ctx context.Context, ref secret.Reference) (bool, error) {
	backend, err := r.backend(ref)
	if err != nil {
		return false, err
	}
	gen, ok := backend.(ports.SecretGenerator)
	if !ok {
		return false, nil
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if err := gen.Generate(ctx, ref); err != nil {
		return false, errors.Wrapf(failure.Classify(err), "failed to regenerate secret %s (%s)", ref.Name, ref.Backend)
	}
	return true, nil
}

func (r *Registry) backend(ref secret.Reference) (ports.SecretBackend, error) {
	backend, ok := r.backends[ref.Backend]
	if !ok {
		supported := strings.Join(r.Supported(), ", ")
		return nil, failure.BackendUnsupported(
			"use one of: "+supported,
			"unknown secret backend %q for secret %s (supported: %s)", ref.Backend, ref.Name, supported)
	}
	return backend, nil
}

func (r *Registry) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, func() {}
}

var _ ports.SecretRotator = (*Registry)(nil)
