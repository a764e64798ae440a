// Package secrets implements the local secret backends and the registry the
// resolver dispatches through.
package secrets

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/config"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
	"github.com/vivekkundariya/envctl/internal/infrastructure/fsutil"
	"github.com/vivekkundariya/envctl/internal/ui"
)

var _ ports.SecretGenerator = (*MockBackend)(nil)

// MockBackend reads secrets from <root>/.envctl/mock-secrets/<env>.yaml
type MockBackend struct {
	root string
}

// NewMockBackend creates the mock backend for root
func NewMockBackend(root string) ports.SecretBackend {
	return &MockBackend{root: root}
}

func (b *MockBackend) Name() secret.Backend { return secret.BackendMock }

// Fetch looks the secret up by name (locator "name" or the ref name)
func (b *MockBackend) Fetch(_ context.Context, ref secret.Reference) ([]byte, error) {
	path := filepath.Join(b.root, config.MockSecretsPath(ref.Env))
	values, err := config.LoadMockSecrets(path)
	if err != nil {
		return nil, err
	}

	name := ref.Get("name", ref.Name)
	value, ok := values[name]
	if !ok {
		return nil, failure.Validation(
			"add "+name+": <value> to "+path,
			"mock secret %s not found in %s", name, path)
	}
	ui.Debug("Resolved %s from mock fixture %s", ref.Name, path)
	return []byte(value), nil
}

// Generate stores a fresh random value under the secret's name, keeping the
// rest of the fixture
func (b *MockBackend) Generate(_ context.Context, ref secret.Reference) error {
	path := filepath.Join(b.root, config.MockSecretsPath(ref.Env))
	values, err := config.LoadMockSecrets(path)
	if err != nil {
		return err
	}
	if values == nil {
		values = make(map[string]string)
	}
	values[ref.Get("name", ref.Name)] = rand.Text()

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return failure.Mark(err, failure.ErrUnreachable)
	}
	ui.Debug("Generated a new value for %s in %s", ref.Name, path)
	return nil
}

// EnvBackend reads secrets from process environment variables
type EnvBackend struct {
	lookup func(string) (string, bool)
}

// NewEnvBackend creates the env backend. A nil lookup uses os.LookupEnv.
func NewEnvBackend(lookup func(string) (string, bool)) ports.SecretBackend {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvBackend{lookup: lookup}
}

func (b *EnvBackend) Name() secret.Backend { return secret.BackendEnv }

// Fetch reads the variable named by locator "var", defaulting to the
// upper-cased ref name. Unset and empty are both errors.
func (b *EnvBackend) Fetch(_ context.Context, ref secret.Reference) ([]byte, error) {
	name := ref.Get("var", strings.ToUpper(ref.Name))
	value, ok := b.lookup(name)
	if !ok || value == "" {
		return nil, failure.Precondition(
			"export "+name+" before running envctl",
			"environment variable %s for secret %s is unset or empty", name, ref.Name)
	}
	return []byte(value), nil
}

// FileBackend reads a secret from a file
type FileBackend struct {
	root string
}

// NewFileBackend creates the file backend resolving relative paths from root
func NewFileBackend(root string) ports.SecretBackend {
	return &FileBackend{root: root}
}

func (b *FileBackend) Name() secret.Backend { return secret.BackendFile }

// Fetch reads locator "path", trimming one trailing newline
func (b *FileBackend) Fetch(_ context.Context, ref secret.Reference) ([]byte, error) {
	path := ref.Get("path", "")
	if path == "" {
		return nil, failure.Validation(
			"set path: <file> for secret "+ref.Name,
			"file secret %s has no path", ref.Name)
	}
	path = config.ExpandPath(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.root, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Precondition(
				"create "+path+" or fix the path of secret "+ref.Name,
				"secret file %s not found", path)
		}
		return nil, failure.Precondition("", "failed to read secret file %s: %v", path, err)
	}

	data = []byte(strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r"))
	if len(data) == 0 {
		return nil, failure.Precondition("write the secret into "+path, "secret file %s is empty", path)
	}
	return data, nil
}
