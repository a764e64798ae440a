package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"gopkg.in/yaml.v3"
)

// decodeStrict decodes YAML rejecting unknown fields. An empty document
// leaves out untouched.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// readRequired reads an SSOT file that must exist
func readRequired(path, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Precondition(
				"create "+path+" (see 'envctl init') or point --root at the repository that holds it",
				"%s not found at %s", what, path)
		}
		return nil, failure.Precondition("", "failed to read %s: %v", path, err)
	}
	return data, nil
}

// readOptional reads a per-environment file; a missing file reads as empty
func readOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, failure.Precondition("", "failed to read %s: %v", path, err)
	}
	return data, true, nil
}

// LoadContractFile loads env/contract.yaml
func LoadContractFile(path string) (*ContractFile, error) {
	data, err := readRequired(path, "environment contract")
	if err != nil {
		return nil, err
	}

	var file ContractFile
	if err := decodeStrict(data, &file); err != nil {
		return nil, failure.Validation("fix the YAML in "+path, "failed to parse %s: %v", path, err)
	}
	if err := ValidateContractFile(path, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// LoadValuesFile loads env/values/<env>.yaml
func LoadValuesFile(path string) (*ValuesFile, error) {
	file := &ValuesFile{Values: map[string]string{}}

	data, found, err := readOptional(path)
	if err != nil || !found {
		return file, err
	}

	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, failure.Validation("keep "+path+" a flat KEY: value mapping",
			"failed to parse %s: %v", path, err)
	}
	if file.Values == nil {
		file.Values = map[string]string{}
	}
	return file, nil
}

// LoadSecretsFile loads env/secrets/<env>.ref.yaml
func LoadSecretsFile(path string) (*SecretsFile, error) {
	file := &SecretsFile{Secrets: map[string]SecretRefConfig{}}

	data, found, err := readOptional(path)
	if err != nil || !found {
		return file, err
	}

	if err := decodeStrict(data, file); err != nil {
		return nil, failure.Validation("fix the YAML in "+path, "failed to parse %s: %v", path, err)
	}
	if file.Secrets == nil {
		file.Secrets = map[string]SecretRefConfig{}
	}
	if err := ValidateSecretsFile(path, file); err != nil {
		return nil, err
	}
	return file, nil
}

// LoadPolicyFile loads env/policy.yaml
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := readRequired(path, "routing policy")
	if err != nil {
		return nil, err
	}

	var file PolicyFile
	if err := decodeStrict(data, &file); err != nil {
		return nil, failure.Validation("fix the YAML in "+path, "failed to parse %s: %v", path, err)
	}
	if err := ValidatePolicyFile(path, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// LoadMockSecrets loads the mock backend fixture: secret name -> value
func LoadMockSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Validation(
				"create "+path+" with name: value entries for the mock backend",
				"mock secret fixture %s not found", path)
		}
		return nil, err
	}

	var values map[string]string
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, failure.Validation("", "failed to parse mock fixture %s: %v", path, err)
	}
	return values, nil
}
