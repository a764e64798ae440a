package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

// ConfigResolver resolves the SSOT root and global settings
// Priority order for the root (highest to lowest):
// 1. CLI flag (--root)
// 2. Environment variable (ENVCTL_ROOT)
// 3. First parent of the working directory containing env/contract.yaml
type ConfigResolver struct {
	// CLIRoot is set via --root flag
	CLIRoot string

	// GlobalConfig is the loaded global configuration
	GlobalConfig *GlobalConfig
}

// NewConfigResolver creates a new config resolver
func NewConfigResolver(cliRoot string) (*ConfigResolver, error) {
	globalConfig, err := LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}

	return &ConfigResolver{
		CLIRoot:      cliRoot,
		GlobalConfig: globalConfig,
	}, nil
}

// ResolveRoot returns the absolute SSOT root directory
func (r *ConfigResolver) ResolveRoot() (string, error) {
	if r.CLIRoot != "" {
		return checkRoot(r.CLIRoot, "--root")
	}

	if envRoot := os.Getenv(EnvEnvctlRoot); envRoot != "" {
		return checkRoot(envRoot, EnvEnvctlRoot)
	}

	if root, found := searchParents(); found {
		return root, nil
	}

	return "", failure.Precondition(
		"pass --root <path>, set "+EnvEnvctlRoot+", or run 'envctl init' in the repository root",
		"SSOT root not found: no %s in the working directory or its parents", ContractPath)
}

func checkRoot(path, source string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s path: %w", source, err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", failure.Precondition("check the path passed via "+source,
			"SSOT root %s (from %s) is not a directory", abs, source)
	}
	return abs, nil
}

// searchParents walks up from the working directory looking for the contract
func searchParents() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, ContractPath)); err == nil {
			return dir, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if len(path) > 1 {
			return filepath.Join(home, path[2:])
		}
		return home
	}

	return path
}

// ExpandPath is expandPath for other packages
func ExpandPath(path string) string {
	return expandPath(path)
}
