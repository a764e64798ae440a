package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// GlobalConfigDir is the directory for global envctl configuration
	GlobalConfigDir = ".envctl"

	// GlobalConfigFile is the global configuration file name
	GlobalConfigFile = "config.yaml"

	// EnvEnvctlHome is the environment variable for the envctl home directory
	EnvEnvctlHome = "ENVCTL_HOME"

	// EnvEnvctlRoot is the environment variable for the SSOT root
	EnvEnvctlRoot = "ENVCTL_ROOT"
)

// GlobalConfig represents the machine-wide envctl configuration
// stored at ~/.envctl/config.yaml
type GlobalConfig struct {
	// Project scopes manager secrets (<prefix>/<project>/<name>)
	Project string `yaml:"project,omitempty"`

	// EvidenceDir is used when --out is not given
	EvidenceDir string `yaml:"evidence_dir,omitempty"`

	// IAMKeyPatterns are added to the policy's iam_keys patterns
	IAMKeyPatterns []string `yaml:"iam_key_patterns,omitempty"`

	Timeouts TimeoutConfig `yaml:"timeouts,omitempty"`
	AWS      AWSConfig     `yaml:"aws,omitempty"`
	SSH      SSHConfig     `yaml:"ssh,omitempty"`
}

// TimeoutConfig bounds every external call
type TimeoutConfig struct {
	SecretFetch time.Duration `yaml:"secret_fetch,omitempty"`
	SSHConnect  time.Duration `yaml:"ssh_connect,omitempty"`
	SSHCommand  time.Duration `yaml:"ssh_command,omitempty"`
	Health      time.Duration `yaml:"health,omitempty"`
}

// AWSConfig holds settings for the secrets-manager backend, the S3 evidence
// sink and SNS/SQS notifications
type AWSConfig struct {
	Region string `yaml:"region,omitempty"`

	Profile string `yaml:"profile,omitempty"`

	// Endpoint overrides the service endpoint (e.g. http://localhost:4566)
	Endpoint string `yaml:"endpoint,omitempty"`

	// SecretsPrefix is prepended to manager secret ids
	SecretsPrefix string `yaml:"secrets_prefix,omitempty"`
}

// SSHConfig holds defaults for remote transport
type SSHConfig struct {
	User           string `yaml:"user,omitempty"`
	KeyPath        string `yaml:"key_path,omitempty"`
	KnownHostsPath string `yaml:"known_hosts,omitempty"`
}

// GetEnvctlHome returns the envctl home directory
// Priority: ENVCTL_HOME env var > ~/.envctl
func GetEnvctlHome() (string, error) {
	if home := os.Getenv(EnvEnvctlHome); home != "" {
		return home, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(userHome, GlobalConfigDir), nil
}

// GetGlobalConfigPath returns the path to the global config file
func GetGlobalConfigPath() (string, error) {
	home, err := GetEnvctlHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, GlobalConfigFile), nil
}

// LoadGlobalConfig loads the global configuration
// Returns default config if file doesn't exist
func LoadGlobalConfig() (*GlobalConfig, error) {
	configPath, err := GetGlobalConfigPath()
	if err != nil {
		return DefaultGlobalConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGlobalConfig(), nil
		}
		return nil, fmt.Errorf("failed to read global config: %w", err)
	}

	var config GlobalConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse global config %s: %w", configPath, err)
	}

	config.applyDefaults()

	return &config, nil
}

// SaveGlobalConfig saves the global configuration
func SaveGlobalConfig(config *GlobalConfig) error {
	home, err := GetEnvctlHome()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(home, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(home, GlobalConfigFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultGlobalConfig returns the default global configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Project:     "default",
		EvidenceDir: "evidence",
		IAMKeyPatterns: []string{
			"IAM_*",
			"*_IAM_*",
			"*_ROLE_ARN",
		},
		Timeouts: TimeoutConfig{
			SecretFetch: 10 * time.Second,
			SSHConnect:  10 * time.Second,
			SSHCommand:  60 * time.Second,
			Health:      15 * time.Second,
		},
		AWS: AWSConfig{
			Region:        "us-east-1",
			SecretsPrefix: "envctl",
		},
	}
}

// applyDefaults applies default values to unset fields
func (c *GlobalConfig) applyDefaults() {
	defaults := DefaultGlobalConfig()

	if c.Project == "" {
		c.Project = defaults.Project
	}
	if c.EvidenceDir == "" {
		c.EvidenceDir = defaults.EvidenceDir
	}
	if c.IAMKeyPatterns == nil {
		c.IAMKeyPatterns = defaults.IAMKeyPatterns
	}
	if c.Timeouts.SecretFetch <= 0 {
		c.Timeouts.SecretFetch = defaults.Timeouts.SecretFetch
	}
	if c.Timeouts.SSHConnect <= 0 {
		c.Timeouts.SSHConnect = defaults.Timeouts.SSHConnect
	}
	if c.Timeouts.SSHCommand <= 0 {
		c.Timeouts.SSHCommand = defaults.Timeouts.SSHCommand
	}
	if c.Timeouts.Health <= 0 {
		c.Timeouts.Health = defaults.Timeouts.Health
	}
	if c.AWS.Region == "" {
		c.AWS.Region = defaults.AWS.Region
	}
	if c.AWS.SecretsPrefix == "" {
		c.AWS.SecretsPrefix = defaults.AWS.SecretsPrefix
	}
}

// InitGlobalConfig writes the default config unless one already exists
func InitGlobalConfig() error {
	configPath, err := GetGlobalConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	return SaveGlobalConfig(DefaultGlobalConfig())
}
