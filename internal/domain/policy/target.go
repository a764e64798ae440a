// Package policy routes (environment, workload) pairs to provider targets.
package policy

import (
	"time"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

// Provider identifiers.
const (
	ProviderMock       = "mock"
	ProviderFileInject = "file-inject"
)

// Transport identifiers for the file-injection provider.
const (
	TransportLocal  = "local"
	TransportRemote = "remote"
)

// Wildcard matches any workload.
const Wildcard = "*"

// Match selects the queries a target applies to.
type Match struct {
	Env      string
	Workload string
}

// Host is a remote destination for injected files.
type Host struct {
	Address string
	User    string
	Port    string
}

// SSH settings for remote transport.
type SSH struct {
	KeyPath               string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	ConnectTimeout        time.Duration
	CommandTimeout        time.Duration
}

// Injection configures how the file-injection provider delivers files.
type Injection struct {
	Transport    string
	Target       string
	Mode         string
	Hosts        []Host
	SSH          SSH
	PreCommands  []string
	PostCommands []string
}

// Notify configures post-operation notifications.
type Notify struct {
	SNSTopicARN string
	SQSQueueURL string
}

// Set is what a matched target selects.
type Set struct {
	Provider    string
	Runtime     string
	EnvFileName string
	Injection   *Injection
	Notify      Notify
	Health      *Health
}

// Health is an HTTP endpoint polled after a successful apply
type Health struct {
	URL      string
	Retries  int
	Interval time.Duration
}

// Target is a routing rule.
type Target struct {
	ID    string
	Match Match
	Set   Set
}

// Matches reports whether t applies to (env, workload).
func (t Target) Matches(env, workload string) bool {
	if t.Match.Env != env {
		return false
	}
	w := t.Match.Workload
	return w == "" || w == Wildcard || w == workload
}

// Transport returns the configured transport, defaulting to local.
func (t Target) Transport() string {
	if t.Set.Injection == nil || t.Set.Injection.Transport == "" {
		return TransportLocal
	}
	return t.Set.Injection.Transport
}

// Policy is the ordered list of targets plus the IAM key patterns.
type Policy struct {
	Targets     []Target
	IAMPatterns []string
}

// Route returns the first target matching (env, workload), in declaration
// order. Overlapping targets are allowed; the earliest one always wins.
func (p *Policy) Route(env, workload string) (Target, error) {
	for _, t := range p.Targets {
		if t.Matches(env, workload) {
			return t, nil
		}
	}
	q := env
	if workload != "" {
		q += ", workload=" + workload
	}
	return Target{}, failure.Precondition(
		"add a target with match.env: "+env+" to env/policy.yaml, then re-run",
		"no policy target matches (env=%s); stopping", q)
}

// Envs returns every concrete environment named by a target, in order.
func (p *Policy) Envs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range p.Targets {
		if t.Match.Env != "" && !seen[t.Match.Env] {
			seen[t.Match.Env] = true
			out = append(out, t.Match.Env)
		}
	}
	return out
}
