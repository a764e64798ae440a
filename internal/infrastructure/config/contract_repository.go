package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/config"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

// ContractRepositoryImpl implements ContractRepository over the files in root
type ContractRepositoryImpl struct {
	root string

	// extraIAM are IAM key patterns from the global config
	extraIAM []string
}

// NewContractRepository creates a repository reading from root
func NewContractRepository(root string, extraIAMPatterns []string) ports.ContractRepository {
	return &ContractRepositoryImpl{root: root, extraIAM: extraIAMPatterns}
}

// Root returns the SSOT root directory
func (r *ContractRepositoryImpl) Root() string {
	return r.root
}

// Load reads the contract, value overlay and secret refs for scope
func (r *ContractRepositoryImpl) Load(scope envstate.Scope) (*ports.Skeleton, error) {
	if scope.Env == "" {
		return nil, failure.Precondition("pass --env <name>", "no environment selected")
	}
	if err := scope.Validate(); err != nil {
		return nil, failure.Precondition("use letters, digits, '.', '_' and '-' in --env and --workload", "%v", err)
	}
	return Load(
		scope,
		filepath.Join(r.root, config.ContractPath),
		filepath.Join(r.root, config.ValuesPath(scope.Env)),
		filepath.Join(r.root, config.SecretsPath(scope.Env)),
	)
}

// appEnvKey is forced to the environment name when the contract declares it
const appEnvKey = "APP_ENV"

// Load builds the skeleton from explicit file paths. It has no side effects.
// Variables out of scope for the environment, or removed, are left out of
// the skeleton's contract.
func Load(scope envstate.Scope, contractPath, valuesPath, secretsRefPath string) (*ports.Skeleton, error) {
	contractFile, err := config.LoadContractFile(contractPath)
	if err != nil {
		return nil, err
	}
	values, err := config.LoadValuesFile(valuesPath)
	if err != nil {
		return nil, err
	}
	refs, err := config.LoadSecretsFile(secretsRefPath)
	if err != nil {
		return nil, err
	}

	all := make([]envstate.Variable, 0, len(contractFile.Variables))
	var active []envstate.Variable
	for _, decl := range contractFile.Variables {
		v := decl.Variable()
		all = append(all, v)
		if v.InScope(scope.Env) && !v.Removed() {
			active = append(active, v)
		}
	}
	full := envstate.NewContract(all)

	skel := &ports.Skeleton{
		Scope:      scope,
		Contract:   envstate.NewContract(active),
		Values:     make(map[string]string),
		SecretRefs: make(map[string]secret.Reference),
	}

	overlay, err := resolveOverlay(scope, full, values, valuesPath, skel)
	if err != nil {
		return nil, err
	}

	for _, v := range skel.Contract.Variables {
		if v.Secret {
			cfg, ok := refs.Secrets[v.SecretRef]
			if !ok {
				return nil, failure.Validation(
					fmt.Sprintf("add entry for secret %s in %s", v.SecretRef, secretsRefPath),
					"%s references secret %s, which %s does not define", v.Key, v.SecretRef, secretsRefPath)
			}
			skel.SecretRefs[v.SecretRef] = toReference(v.SecretRef, scope.Env, cfg)
			continue
		}

		if v.Key == appEnvKey {
			skel.Values[v.Key] = scope.Env
			continue
		}
		if val, ok := overlay[v.Key]; ok {
			skel.Values[v.Key] = val
			continue
		}
		if v.Default != nil {
			skel.Values[v.Key] = *v.Default
			continue
		}
		if v.Required {
			return nil, failure.Validation(
				fmt.Sprintf("set %s in %s or give it a default in %s", v.Key, valuesPath, contractPath),
				"required variable %s has no value for %s", v.Key, scope.Env)
		}
	}

	return skel, nil
}

// resolveOverlay checks every overlay key against the full contract and
// returns the values by current key. Legacy keys named by
// migration.rename_from are mapped and reported as warnings.
func resolveOverlay(scope envstate.Scope, contract *envstate.Contract, values *config.ValuesFile, valuesPath string, skel *ports.Skeleton) (map[string]string, error) {
	renames := make(map[string]string)
	for _, v := range contract.Variables {
		if v.RenameFrom != "" {
			renames[v.RenameFrom] = v.Key
		}
	}

	keys := values.Keys()
	if len(keys) == 0 {
		for k := range values.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	out := make(map[string]string, len(keys))
	for _, raw := range keys {
		key := raw
		v, ok := contract.Lookup(raw)
		if !ok || v.Removed() {
			if next, renamed := renames[raw]; renamed {
				if _, both := values.Values[next]; both {
					return nil, failure.Validation(
						fmt.Sprintf("remove the legacy key %s from %s", raw, valuesPath),
						"%s sets both legacy %s and its replacement %s", valuesPath, raw, next)
				}
				key = next
				v, ok = contract.Lookup(next)
				skel.Warnings = append(skel.Warnings,
					fmt.Sprintf("%s uses legacy key %s; rename it to %s", valuesPath, raw, next))
			}
		}
		if !ok {
			return nil, failure.Validation(
				fmt.Sprintf("declare %s in %s or remove it from %s", raw, config.ContractPath, valuesPath),
				"%s sets %s, which the contract does not declare", valuesPath, raw)
		}
		if v.Removed() {
			return nil, failure.Validation(
				fmt.Sprintf("remove %s from %s", raw, valuesPath),
				"%s sets %s, which the contract marks removed", valuesPath, raw)
		}
		if v.Secret {
			return nil, failure.Validation(
				fmt.Sprintf("remove %s from %s; secrets are resolved through secret_ref", raw, valuesPath),
				"%s sets a literal value for secret %s", valuesPath, raw)
		}
		if !v.InScope(scope.Env) {
			return nil, failure.Validation(
				fmt.Sprintf("remove %s from %s or add %s to its scopes", raw, valuesPath, scope.Env),
				"%s sets %s, which is out of scope for %s", valuesPath, raw, scope.Env)
		}

		val := values.Values[raw]
		if err := v.CheckValue(val); err != nil {
			return nil, failure.Validation(fmt.Sprintf("fix %s in %s", raw, valuesPath),
				"%s: %v", valuesPath, err)
		}
		if v.Deprecated() {
			msg := fmt.Sprintf("%s sets deprecated key %s", valuesPath, key)
			if v.DeprecateAfter != "" {
				msg += " (deprecate_after " + v.DeprecateAfter + ")"
			}
			if v.Replacement != "" {
				msg += "; use " + v.Replacement
			}
			skel.Warnings = append(skel.Warnings, msg)
		}
		out[key] = val
	}
	return out, nil
}

func toReference(name, env string, cfg config.SecretRefConfig) secret.Reference {
	locator := make(map[string]string, len(cfg.Locator))
	for k, v := range cfg.Locator {
		locator[k] = v
	}
	return secret.Reference{
		Name:    name,
		Env:     env,
		Backend: secret.Backend(cfg.Backend),
		Locator: locator,
	}
}

// LoadPolicy reads env/policy.yaml and checks template injectivity
func (r *ContractRepositoryImpl) LoadPolicy() (*policy.Policy, error) {
	path := filepath.Join(r.root, config.PolicyPath)
	file, err := config.LoadPolicyFile(path)
	if err != nil {
		return nil, err
	}

	p := &policy.Policy{
		IAMPatterns: append(append([]string{}, file.IAMKeys...), r.extraIAM...),
	}
	for _, t := range file.Targets {
		p.Targets = append(p.Targets, toTarget(t))
	}

	if err := p.ValidateInjective(); err != nil {
		return nil, err
	}
	return p, nil
}

func toTarget(t config.TargetConfig) policy.Target {
	target := policy.Target{
		ID:    t.ID,
		Match: policy.Match{Env: t.Match.Env, Workload: t.Match.Workload},
		Set: policy.Set{
			Provider:    t.Set.Provider,
			Runtime:     t.Set.Runtime,
			EnvFileName: t.Set.EnvFileName,
			Notify: policy.Notify{
				SNSTopicARN: t.Set.Notify.SNSTopicARN,
				SQSQueueURL: t.Set.Notify.SQSQueueURL,
			},
		},
	}

	if h := t.Set.Health; h != nil {
		target.Set.Health = &policy.Health{URL: h.URL, Retries: h.Retries, Interval: h.Interval}
	}

	if inj := t.Set.Injection; inj != nil {
		hosts := make([]policy.Host, 0, len(inj.Hosts))
		for _, h := range inj.Hosts {
			hosts = append(hosts, policy.Host{Address: h.Address, User: h.User, Port: h.Port})
		}
		target.Set.Injection = &policy.Injection{
			Transport: inj.Transport,
			Target:    inj.Target,
			Mode:      inj.Mode,
			Hosts:     hosts,
			SSH: policy.SSH{
				KeyPath:               inj.SSH.KeyPath,
				KnownHostsPath:        inj.SSH.KnownHosts,
				InsecureIgnoreHostKey: inj.SSH.InsecureIgnoreHostKey,
				ConnectTimeout:        inj.SSH.ConnectTimeout,
				CommandTimeout:        inj.SSH.CommandTimeout,
			},
			PreCommands:  inj.PreCommands,
			PostCommands: inj.PostCommands,
		}
	}
	return target
}
