package policy

import (
	"path"
	"regexp"
	"strings"

	"github.com/vivekkundariya/envctl/internal/domain/failure"
)

// Placeholders supported in templated policy fields. No other placeholder
// is expanded.
const (
	PlaceholderEnv      = "{env}"
	PlaceholderWorkload = "{workload}"
)

var placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)

// Expand substitutes {env} and {workload} in tmpl. Any other {...} token is
// rejected.
func Expand(tmpl, env, workload string) (string, error) {
	for _, m := range placeholderRe.FindAllString(tmpl, -1) {
		if m != PlaceholderEnv && m != PlaceholderWorkload {
			return "", failure.Validation(
				"only {env} and {workload} are supported in policy paths",
				"unknown placeholder %s in %q", m, tmpl)
		}
	}
	if workload == "" && strings.Contains(tmpl, PlaceholderWorkload) {
		return "", failure.Validation(
			"pass --workload or remove {workload} from the template",
			"template %q needs a workload", tmpl)
	}
	out := strings.ReplaceAll(tmpl, PlaceholderEnv, env)
	return strings.ReplaceAll(out, PlaceholderWorkload, workload), nil
}

// InjectionPath expands injection.target and env_file_name into the
// injected file path, slash separated and cleaned. When both are set the
// target is the directory holding the file.
func (t Target) InjectionPath(env, workload string) (string, error) {
	var dir, name string
	var err error
	if inj := t.Set.Injection; inj != nil && inj.Target != "" {
		if dir, err = Expand(inj.Target, env, workload); err != nil {
			return "", err
		}
	}
	if t.Set.EnvFileName != "" {
		if name, err = Expand(t.Set.EnvFileName, env, workload); err != nil {
			return "", err
		}
	}
	if dir == "" && name == "" {
		return "", nil
	}
	return path.Join(dir, name), nil
}

// ValidateInjective checks that no two environments expand to the same
// injection path. Wildcard workloads expand {workload} to "*".
func (p *Policy) ValidateInjective() error {
	type owner struct {
		env    string
		target string
	}
	seen := map[string]owner{}

	for _, t := range p.Targets {
		workload := t.Match.Workload
		if workload == "" {
			workload = Wildcard
		}
		injected, err := t.InjectionPath(t.Match.Env, workload)
		if err != nil {
			return err
		}
		if injected == "" {
			continue
		}
		if prev, ok := seen[injected]; ok && prev.env != t.Match.Env {
			return failure.Validation(
				"include {env} in injection.target or env_file_name so each environment gets its own file",
				"targets %s (env=%s) and %s (env=%s) both inject into %s",
				prev.target, prev.env, t.ID, t.Match.Env, injected)
		}
		seen[injected] = owner{env: t.Match.Env, target: t.ID}
	}
	return nil
}
