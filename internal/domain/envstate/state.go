package envstate

import (
	"fmt"
	"regexp"
	"time"

	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

// Entry is one resolved key of the desired state. Exactly one of Literal or
// Handle is meaningful, depending on Secret.
type Entry struct {
	Key     string
	Secret  bool
	IAM     bool
	Literal string
	Handle  *secret.Handle
}

// Hash returns the value hash used for diffing.
func (e Entry) Hash() (string, error) {
	if e.Secret {
		return secret.Hash(e.Key, e.Handle)
	}
	return secret.HashValue([]byte(e.Literal)), nil
}

// InjectTo writes the raw value into sink.
func (e Entry) InjectTo(sink secret.Sink) error {
	if e.Secret {
		return e.Handle.InjectTo(e.Key, sink)
	}
	return sink.Inject(e.Key, []byte(e.Literal))
}

// Display returns the value safe for reports.
func (e Entry) Display() string {
	if e.Secret {
		return secret.Redacted
	}
	return e.Literal
}

// Scope identifies the reconciliation target.
type Scope struct {
	Env      string
	Workload string
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate rejects env and workload names that are unsafe in file paths.
func (s Scope) Validate() error {
	if !namePattern.MatchString(s.Env) {
		return fmt.Errorf("invalid environment name %q", s.Env)
	}
	if s.Workload != "" && !namePattern.MatchString(s.Workload) {
		return fmt.Errorf("invalid workload name %q", s.Workload)
	}
	return nil
}

func (s Scope) String() string {
	if s.Workload == "" {
		return s.Env
	}
	return s.Env + "/" + s.Workload
}

// DesiredState is the fully resolved configuration for a scope.
type DesiredState struct {
	Scope    Scope
	Entries  []Entry
	Provider string
	Runtime  string
	TargetID string
}

// Lookup returns the entry for key.
func (d *DesiredState) Lookup(key string) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

// Hashes returns key -> value hash for every entry.
func (d *DesiredState) Hashes() (map[string]string, error) {
	out := make(map[string]string, len(d.Entries))
	for _, e := range d.Entries {
		h, err := e.Hash()
		if err != nil {
			return nil, err
		}
		out[e.Key] = h
	}
	return out, nil
}

// Effective returns a redacted key -> display value snapshot.
func (d *DesiredState) Effective() map[string]string {
	out := make(map[string]string, len(d.Entries))
	for _, e := range d.Entries {
		out[e.Key] = e.Display()
	}
	return out
}

// DeployedState is what an adapter reports as in effect. It never holds raw
// values, only hashes.
type DeployedState struct {
	Scope     Scope
	Hashes    map[string]string
	Metadata  map[string]string
	Exists    bool
	UpdatedAt time.Time
}

// NewDeployedState returns an empty deployed state for scope.
func NewDeployedState(scope Scope) *DeployedState {
	return &DeployedState{
		Scope:    scope,
		Hashes:   make(map[string]string),
		Metadata: make(map[string]string),
	}
}
