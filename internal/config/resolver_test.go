package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

// newSSOT creates a directory holding env/contract.yaml
func newSSOT(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ContractPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("variables: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// Resolve symlinks for comparison (macOS /var -> /private/var)
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}

func newResolver(t *testing.T, cliRoot string) *ConfigResolver {
	t.Helper()
	t.Setenv(EnvEnvctlHome, t.TempDir())
	resolver, err := NewConfigResolver(cliRoot)
	if err != nil {
		t.Fatalf("NewConfigResolver() error: %v", err)
	}
	return resolver
}

func TestConfigResolver_ResolveRoot_CLIFlag(t *testing.T) {
	root := newSSOT(t)
	t.Setenv(EnvEnvctlRoot, "")

	got, err := newResolver(t, root).ResolveRoot()
	if err != nil {
		t.Fatalf("ResolveRoot() error: %v", err)
	}
	if got != root {
		t.Errorf("ResolveRoot() = %s, want %s", got, root)
	}
}

func TestConfigResolver_ResolveRoot_EnvVar(t *testing.T) {
	root := newSSOT(t)
	t.Setenv(EnvEnvctlRoot, root)

	got, err := newResolver(t, "").ResolveRoot()
	if err != nil {
		t.Fatalf("ResolveRoot() error: %v", err)
	}
	if got != root {
		t.Errorf("ResolveRoot() = %s, want %s", got, root)
	}
}

func TestConfigResolver_ResolveRoot_CLIOverridesEnv(t *testing.T) {
	envRoot := newSSOT(t)
	cliRoot := newSSOT(t)
	t.Setenv(EnvEnvctlRoot, envRoot)

	got, err := newResolver(t, cliRoot).ResolveRoot()
	if err != nil {
		t.Fatalf("ResolveRoot() error: %v", err)
	}
	if got != cliRoot {
		t.Errorf("CLI flag should override env var. Expected %s, got %s", cliRoot, got)
	}
}

func TestConfigResolver_ResolveRoot_ParentSearch(t *testing.T) {
	root := newSSOT(t)
	nested := filepath.Join(root, "services", "api")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvEnvctlRoot, "")
	t.Chdir(nested)

	got, err := newResolver(t, "").ResolveRoot()
	if err != nil {
		t.Fatalf("ResolveRoot() error: %v", err)
	}
	actual, _ := filepath.EvalSymlinks(got)
	if actual != root {
		t.Errorf("ResolveRoot() = %s, want %s", actual, root)
	}
}

func TestConfigResolver_ResolveRoot_Failures(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cliRoot string
		envRoot string
	}{
		{"missing cli root", filepath.Join(t.TempDir(), "missing"), ""},
		{"cli root is a file", file, ""},
		{"missing env root", "", filepath.Join(t.TempDir(), "missing")},
		{"nothing found", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnvctlRoot, tt.envRoot)
			t.Chdir(t.TempDir())

			_, err := newResolver(t, tt.cliRoot).ResolveRoot()
			if failure.KindOf(err) != failure.KindPrecondition {
				t.Fatalf("ResolveRoot() error = %v, want precondition", err)
			}
			if len(failure.Hints(err)) == 0 {
				t.Error("expected a remediation hint")
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"~", home},
		{"~/keys/id_ed25519", filepath.Join(home, "keys/id_ed25519")},
		{"/etc/ssh/known_hosts", "/etc/ssh/known_hosts"},
		{"relative/dir", "relative/dir"},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
