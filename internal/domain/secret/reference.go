// Package secret models secret references and resolved secret handles.
package secret

import (
	"sort"
	"strings"
)

// Backend names a secret backend.
type Backend string

const (
	BackendMock    Backend = "mock"
	BackendEnv     Backend = "env"
	BackendFile    Backend = "file"
	BackendManager Backend = "manager"
)

// Scope of a manager secret.
const (
	ScopeProject = "project"
	ScopeShared  = "shared"
)

// Reference locates a secret. It never carries the value.
type Reference struct {
	Name    string
	Env     string
	Backend Backend
	// Locator holds the backend-specific fields (var, path, name, scope...).
	Locator map[string]string
}

// Get returns a locator field, or def when it is unset.
func (r Reference) Get(field, def string) string {
	if v := strings.TrimSpace(r.Locator[field]); v != "" {
		return v
	}
	return def
}

// LocatorSummary renders the locator fields in stable order for reports.
func (r Reference) LocatorSummary() string {
	keys := make([]string, 0, len(r.Locator))
	for k := range r.Locator {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r.Locator[k])
	}
	return strings.Join(parts, ",")
}
