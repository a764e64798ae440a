package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ContractPath is the environment contract, relative to the root
	ContractPath = "env/contract.yaml"

	// PolicyPath is the routing policy, relative to the root
	PolicyPath = "env/policy.yaml"

	// StateDir holds envctl's own local state, relative to the root
	StateDir = ".envctl"
)

// ValuesPath returns the value overlay path for env, relative to the root
func ValuesPath(env string) string {
	return filepath.Join("env", "values", env+".yaml")
}

// SecretsPath returns the secret-reference path for env, relative to the root
func SecretsPath(env string) string {
	return filepath.Join("env", "secrets", env+".ref.yaml")
}

// MockSecretsPath returns the mock secret fixture path for env
func MockSecretsPath(env string) string {
	return filepath.Join(StateDir, "mock-secrets", env+".yaml")
}

// ContractFile represents env/contract.yaml
type ContractFile struct {
	Version   string           `yaml:"version"`
	Variables []VariableConfig `yaml:"variables"`
}

// VariableConfig is one contract declaration
type VariableConfig struct {
	Key         string   `yaml:"key"`
	Type        string   `yaml:"type,omitempty"`
	Options     []string `yaml:"options,omitempty"`
	Secret      bool     `yaml:"secret,omitempty"`
	SecretRef   string   `yaml:"secret_ref,omitempty"`
	IAM         bool     `yaml:"iam,omitempty"`
	Default     *string  `yaml:"default,omitempty"`
	Required    bool     `yaml:"required,omitempty"`
	Description string   `yaml:"description,omitempty"`

	// Scopes limits the variable to the listed environments
	Scopes []string `yaml:"scopes,omitempty"`

	// Lifecycle. Deprecated is the legacy spelling of state: deprecated.
	State          string           `yaml:"state,omitempty"`
	Deprecated     bool             `yaml:"deprecated,omitempty"`
	DeprecateAfter string           `yaml:"deprecate_after,omitempty"`
	Replacement    string           `yaml:"replacement,omitempty"`
	Migration      *MigrationConfig `yaml:"migration,omitempty"`
}

// MigrationConfig describes how a variable replaces an older key
type MigrationConfig struct {
	RenameFrom string `yaml:"rename_from,omitempty"`
}

// Lifecycle returns the declared state, honoring the legacy deprecated flag
func (v VariableConfig) Lifecycle() string {
	switch {
	case v.State != "":
		return v.State
	case v.Deprecated:
		return "deprecated"
	default:
		return "active"
	}
}

// RenameFrom returns migration.rename_from, or empty
func (v VariableConfig) RenameFrom() string {
	if v.Migration == nil {
		return ""
	}
	return v.Migration.RenameFrom
}

// ValuesFile represents env/values/<env>.yaml: a flat key -> literal map
type ValuesFile struct {
	Values map[string]string
	// order keeps declaration order for error reporting
	order []string
}

// Keys returns the overlay keys in file order
func (v *ValuesFile) Keys() []string {
	return v.order
}

// UnmarshalYAML accepts a flat mapping of scalars. Nested values are rejected.
func (v *ValuesFile) UnmarshalYAML(node *yaml.Node) error {
	v.Values = make(map[string]string)
	v.order = nil
	if node.Kind == 0 {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: value overlay must be a flat mapping of KEY: value", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: value for %s must be a scalar", val.Line, k.Value)
		}
		if _, dup := v.Values[k.Value]; dup {
			return fmt.Errorf("line %d: duplicate key %s", k.Line, k.Value)
		}
		v.Values[k.Value] = val.Value
		v.order = append(v.order, k.Value)
	}
	return nil
}

// SecretsFile represents env/secrets/<env>.ref.yaml
type SecretsFile struct {
	Version string                     `yaml:"version"`
	Secrets map[string]SecretRefConfig `yaml:"secrets"`
}

// SecretRefConfig locates one secret. Locator fields depend on the backend:
// env: var; file: path; mock: name; manager: name, scope.
type SecretRefConfig struct {
	Backend string            `yaml:"backend"`
	Locator map[string]string `yaml:",inline"`
}

// PolicyFile represents env/policy.yaml
type PolicyFile struct {
	Version string         `yaml:"version"`
	IAMKeys []string       `yaml:"iam_keys,omitempty"`
	Targets []TargetConfig `yaml:"targets"`
}

// TargetConfig is one routing rule
type TargetConfig struct {
	ID    string      `yaml:"id"`
	Match MatchConfig `yaml:"match"`
	Set   SetConfig   `yaml:"set"`
}

type MatchConfig struct {
	Env      string `yaml:"env"`
	Workload string `yaml:"workload,omitempty"`
}

type SetConfig struct {
	Provider    string           `yaml:"provider"`
	Runtime     string           `yaml:"runtime,omitempty"`
	EnvFileName string           `yaml:"env_file_name,omitempty"`
	Injection   *InjectionConfig `yaml:"injection,omitempty"`
	Notify      NotifyConfig     `yaml:"notify,omitempty"`
	Health      *HealthConfig    `yaml:"health,omitempty"`
}

type InjectionConfig struct {
	Transport    string             `yaml:"transport,omitempty"` // local or remote
	Target       string             `yaml:"target"`
	Mode         string             `yaml:"mode,omitempty"`
	Hosts        []HostConfig       `yaml:"hosts,omitempty"`
	SSH          SSHTransportConfig `yaml:"ssh,omitempty"`
	PreCommands  []string           `yaml:"pre_commands,omitempty"`
	PostCommands []string           `yaml:"post_commands,omitempty"`
}

type SSHTransportConfig struct {
	KeyPath               string        `yaml:"key_path,omitempty"`
	KnownHosts            string        `yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key,omitempty"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout,omitempty"`
	CommandTimeout        time.Duration `yaml:"command_timeout,omitempty"`
}

// HostConfig is a remote host. It decodes from a mapping or from a
// "user@host:port" string.
type HostConfig struct {
	Address string `yaml:"address"`
	User    string `yaml:"user,omitempty"`
	Port    string `yaml:"port,omitempty"`
}

func (h *HostConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return h.parse(node.Value)
	}
	type plain HostConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*h = HostConfig(p)
	return nil
}

func (h *HostConfig) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("empty host")
	}
	if user, rest, ok := strings.Cut(s, "@"); ok {
		h.User = user
		s = rest
	}
	if host, port, err := net.SplitHostPort(s); err == nil {
		h.Address, h.Port = host, port
		return nil
	}
	h.Address = s
	return nil
}

// HealthConfig is polled after apply until it answers 200
type HealthConfig struct {
	URL      string        `yaml:"url"`
	Retries  int           `yaml:"retries,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

type NotifyConfig struct {
	SNSTopicARN string `yaml:"sns_topic_arn,omitempty"`
	SQSQueueURL string `yaml:"sqs_queue_url,omitempty"`
}
