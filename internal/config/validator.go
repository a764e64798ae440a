package config

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateContractFile checks contract-level rules
func ValidateContractFile(path string, file *ContractFile) error {
	if len(file.Variables) == 0 {
		return failure.Validation("declare at least one variable under variables:",
			"%s declares no variables", path)
	}

	byKey := make(map[string]VariableConfig, len(file.Variables))
	for i, v := range file.Variables {
		if v.Key == "" {
			return failure.Validation("give every variable a key",
				"%s: variables[%d] has no key", path, i)
		}
		if !envstate.ValidKey(v.Key) {
			return failure.Validation("use upper-case letters, digits and underscores, starting with a letter (e.g. DB_URL)",
				"%s: invalid variable name %q", path, v.Key)
		}
		if _, dup := byKey[v.Key]; dup {
			return failure.Validation("remove the duplicate declaration of "+v.Key,
				"%s: duplicate key %s", path, v.Key)
		}
		byKey[v.Key] = v

		if err := validateVariable(path, v); err != nil {
			return err
		}
	}
	return validateRenames(path, file.Variables, byKey)
}

func validateVariable(path string, v VariableConfig) error {
	if v.Secret && v.SecretRef == "" {
		return failure.Validation(
			fmt.Sprintf("add secret_ref: <name> to %s in %s", v.Key, path),
			"%s: secret variable %s has no secret_ref", path, v.Key)
	}
	if !v.Secret && v.SecretRef != "" {
		return failure.Validation(
			fmt.Sprintf("mark %s as secret: true or drop its secret_ref", v.Key),
			"%s: %s has secret_ref but is not secret", path, v.Key)
	}
	if v.Secret && v.Default != nil {
		return failure.Validation(
			fmt.Sprintf("remove the default from secret variable %s", v.Key),
			"%s: secret variable %s must not have a literal default", path, v.Key)
	}

	if v.Type != "" && !slices.Contains(envstate.Types, v.Type) {
		return failure.Validation("use one of: "+strings.Join(envstate.Types, ", "),
			"%s: %s has unsupported type %q", path, v.Key, v.Type)
	}
	if len(v.Options) > 0 && v.Type != envstate.TypeEnum {
		return failure.Validation("drop options or set type: enum on "+v.Key,
			"%s: %s lists options but is not an enum", path, v.Key)
	}
	if v.Default != nil {
		if err := v.Variable().CheckValue(*v.Default); err != nil {
			return failure.Validation("fix the default of "+v.Key+" in "+path,
				"%s: default: %v", path, err)
		}
	}
	for _, env := range v.Scopes {
		if env == "" {
			return failure.Validation("list environment names under scopes",
				"%s: %s has an empty scope", path, v.Key)
		}
	}

	state := v.Lifecycle()
	if !slices.Contains(envstate.States, state) {
		return failure.Validation("use state: "+strings.Join(envstate.States, ", "),
			"%s: %s has invalid state %q", path, v.Key, state)
	}
	if v.Deprecated && state != envstate.StateDeprecated {
		return failure.Validation("drop deprecated: true or set state: deprecated",
			"%s: %s sets deprecated: true but state %s", path, v.Key, state)
	}
	if v.DeprecateAfter != "" {
		if !datePattern.MatchString(v.DeprecateAfter) {
			return failure.Validation("write deprecate_after as YYYY-MM-DD",
				"%s: %s has malformed deprecate_after", path, v.Key)
		}
		if state != envstate.StateDeprecated {
			return failure.Validation("set state: deprecated on "+v.Key+" or drop deprecate_after",
				"%s: deprecate_after on %s requires state deprecated", path, v.Key)
		}
	}
	if v.Replacement != "" {
		if !envstate.ValidKey(v.Replacement) {
			return failure.Validation("name a valid variable as replacement",
				"%s: %s has invalid replacement %q", path, v.Key, v.Replacement)
		}
		if state != envstate.StateDeprecated {
			return failure.Validation("set state: deprecated on "+v.Key+" or drop replacement",
				"%s: replacement on %s requires state deprecated", path, v.Key)
		}
	}
	if from := v.RenameFrom(); from != "" {
		if !envstate.ValidKey(from) {
			return failure.Validation("name a valid variable in migration.rename_from",
				"%s: %s has invalid migration.rename_from %q", path, v.Key, from)
		}
		if from == v.Key {
			return failure.Validation("point migration.rename_from at the old key",
				"%s: %s renames from itself", path, v.Key)
		}
	}
	return nil
}

// validateRenames rejects two variables claiming the same old key, and a
// rename from a key that is still declared and not removed
func validateRenames(path string, vars []VariableConfig, byKey map[string]VariableConfig) error {
	renamed := make(map[string]string)
	for _, v := range vars {
		from := v.RenameFrom()
		if from == "" {
			continue
		}
		if prev, ok := renamed[from]; ok {
			return failure.Validation("keep a single migration.rename_from per old key",
				"%s: rename_from collision: %s is claimed by %s and %s", path, from, prev, v.Key)
		}
		renamed[from] = v.Key

		if old, ok := byKey[from]; ok && old.Lifecycle() != envstate.StateRemoved {
			return failure.Validation("set state: removed on "+from,
				"%s: %s renames from %s, which is still declared and not removed", path, v.Key, from)
		}
	}
	return nil
}

// Variable returns the domain model of a declaration
func (v VariableConfig) Variable() envstate.Variable {
	return envstate.Variable{
		Key:            v.Key,
		Type:           v.Type,
		Options:        v.Options,
		Secret:         v.Secret,
		SecretRef:      v.SecretRef,
		IAM:            v.IAM,
		Default:        v.Default,
		Required:       v.Required,
		Description:    v.Description,
		Scopes:         v.Scopes,
		State:          v.Lifecycle(),
		DeprecateAfter: v.DeprecateAfter,
		Replacement:    v.Replacement,
		RenameFrom:     v.RenameFrom(),
	}
}

// ValidateSecretsFile rejects literal secret values
func ValidateSecretsFile(path string, file *SecretsFile) error {
	for name, ref := range file.Secrets {
		if ref.Backend == "" {
			return failure.Validation(
				fmt.Sprintf("set backend for %s in %s", name, path),
				"%s: secret %s has no backend", path, name)
		}
		if _, literal := ref.Locator["value"]; literal {
			return failure.Validation(
				fmt.Sprintf("move the value of %s into a backend (env, file, manager) and reference it", name),
				"%s: secret %s contains a literal value", path, name)
		}
	}
	return nil
}

// ValidatePolicyFile checks targets and IAM patterns
func ValidatePolicyFile(path string, file *PolicyFile) error {
	if len(file.Targets) == 0 {
		return failure.Validation("add at least one target under targets:",
			"%s declares no targets", path)
	}

	ids := make(map[string]bool, len(file.Targets))
	for i, t := range file.Targets {
		if t.ID == "" {
			return failure.Validation("give every target an id", "%s: targets[%d] has no id", path, i)
		}
		if ids[t.ID] {
			return failure.Validation("target ids must be unique", "%s: duplicate target id %s", path, t.ID)
		}
		ids[t.ID] = true

		if t.Match.Env == "" {
			return failure.Validation("set match.env on target "+t.ID,
				"%s: target %s has no match.env", path, t.ID)
		}
		if t.Set.Provider == "" {
			return failure.Validation("set set.provider on target "+t.ID,
				"%s: target %s has no provider", path, t.ID)
		}
		if h := t.Set.Health; h != nil {
			if u, err := url.Parse(h.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return failure.Validation("set health.url to an http(s) URL on target "+t.ID,
					"%s: target %s has invalid health url %q", path, t.ID, h.URL)
			}
			if h.Retries < 0 || h.Interval < 0 {
				return failure.Validation("use non-negative health.retries and health.interval",
					"%s: target %s has a negative health setting", path, t.ID)
			}
		}
		if inj := t.Set.Injection; inj != nil {
			switch inj.Transport {
			case "", policy.TransportLocal:
			case policy.TransportRemote:
				if len(inj.Hosts) == 0 {
					return failure.Validation("list at least one host under injection.hosts",
						"%s: target %s uses remote transport without hosts", path, t.ID)
				}
			default:
				return failure.Validation("use transport: local or transport: remote",
					"%s: target %s has unknown transport %q", path, t.ID, inj.Transport)
			}
		}
	}

	for _, p := range file.IAMKeys {
		if !envstate.ValidPattern(p) {
			return failure.Validation("use path.Match glob syntax, e.g. *_ROLE_ARN",
				"%s: invalid iam_keys pattern %q", path, p)
		}
	}
	return nil
}
