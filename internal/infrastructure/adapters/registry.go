// Package adapters selects the provider adapter named by a policy target.
package adapters

import (
	"strings"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/infrastructure/adapters/fileinject"
	"github.com/vivekkundariya/envctl/internal/infrastructure/adapters/mockstore"
)

// Registry builds adapters for the supported providers
type Registry struct {
	root   string
	dialer fileinject.HostDialer
}

// NewRegistry creates a registry for root. dialer serves remote file
// injection.
func NewRegistry(root string, dialer fileinject.HostDialer) ports.AdapterRegistry {
	return &Registry{root: root, dialer: dialer}
}

// Providers lists the supported provider names
func (r *Registry) Providers() []string {
	return []string{policy.ProviderFileInject, policy.ProviderMock}
}

// Adapter returns the adapter for provider
func (r *Registry) Adapter(provider string, isIAM envstate.IAMPredicate) (ports.ProviderAdapter, error) {
	switch provider {
	case policy.ProviderMock:
		return mockstore.New(r.root, isIAM), nil
	case policy.ProviderFileInject:
		return fileinject.New(r.root, isIAM, r.dialer), nil
	default:
		supported := strings.Join(r.Providers(), ", ")
		return nil, failure.Validation("set set.provider to one of: "+supported,
			"unknown provider: %s (supported: %s)", provider, supported)
	}
}
