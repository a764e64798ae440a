// Package desired assembles the resolved desired state for a scope: load the
// SSOT files, route to a target, resolve secrets and pick the adapter.
package desired

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// Request names the scope and transport choice of one invocation
type Request struct {
	Scope  envstate.Scope
	Remote bool
}

// Result is everything an operation needs after the build stage
type Result struct {
	Desired  *envstate.DesiredState
	Target   ports.DeployTarget
	Adapter  ports.ProviderAdapter
	Skeleton *ports.Skeleton
	Policy   *policy.Policy
	IsIAM    envstate.IAMPredicate
}

// Builder produces desired state. It performs no mutation.
type Builder struct {
	repo     ports.ContractRepository
	resolver ports.SecretResolver
	adapters ports.AdapterRegistry
}

// NewBuilder creates a builder
func NewBuilder(repo ports.ContractRepository, resolver ports.SecretResolver, adapters ports.AdapterRegistry) *Builder {
	return &Builder{repo: repo, resolver: resolver, adapters: adapters}
}

// Build loads, routes and resolves the desired state for req
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	scope := req.Scope
	if scope.Env == "" {
		return nil, failure.Precondition("pass --env <name>", "no environment selected")
	}
	if err := scope.Validate(); err != nil {
		return nil, failure.Precondition("use letters, digits, '.', '_' and '-' in --env and --workload", "%v", err)
	}

	pol, err := b.repo.LoadPolicy()
	if err != nil {
		return nil, err
	}
	target, err := pol.Route(scope.Env, scope.Workload)
	if err != nil {
		return nil, err
	}
	ui.Debug("Routed %s to target %s (provider %s)", scope, target.ID, target.Set.Provider)

	skel, err := b.repo.Load(scope)
	if err != nil {
		return nil, err
	}

	transport, err := transportFor(target, req.Remote)
	if err != nil {
		return nil, err
	}
	injectPath, err := injectionPath(target, scope, transport)
	if err != nil {
		return nil, err
	}

	isIAM := envstate.NewIAMPredicate(pol.IAMPatterns)
	entries, err := b.resolve(ctx, skel, isIAM)
	if err != nil {
		return nil, err
	}

	adapter, err := b.adapters.Adapter(target.Set.Provider, isIAM)
	if err != nil {
		return nil, err
	}

	return &Result{
		Desired: &envstate.DesiredState{
			Scope:    scope,
			Entries:  entries,
			Provider: target.Set.Provider,
			Runtime:  target.Set.Runtime,
			TargetID: target.ID,
		},
		Target: ports.DeployTarget{
			Scope:     scope,
			Target:    target,
			Transport: transport,
			Path:      injectPath,
		},
		Adapter:  adapter,
		Skeleton: skel,
		Policy:   pol,
		IsIAM:    isIAM,
	}, nil
}

// resolve builds entries in contract order. A secret ref used by several
// keys is fetched once.
func (b *Builder) resolve(ctx context.Context, skel *ports.Skeleton, isIAM envstate.IAMPredicate) ([]envstate.Entry, error) {
	handles := make(map[string]*secret.Handle)
	var entries []envstate.Entry

	for _, v := range skel.Contract.Variables {
		entry := envstate.Entry{Key: v.Key, Secret: v.Secret, IAM: isIAM(v)}

		if !v.Secret {
			val, ok := skel.Values[v.Key]
			if !ok {
				continue
			}
			entry.Literal = val
			entries = append(entries, entry)
			continue
		}

		h, ok := handles[v.SecretRef]
		if !ok {
			ref, found := skel.SecretRefs[v.SecretRef]
			if !found {
				return nil, failure.Validation("add entry for secret "+v.SecretRef,
					"%s references undefined secret %s", v.Key, v.SecretRef)
			}
			var err error
			h, err = b.resolver.Resolve(ctx, ref)
			if err != nil {
				return nil, errors.Wrapf(err, "resolve %s for %s", v.SecretRef, v.Key)
			}
			handles[v.SecretRef] = h
			ui.Debug("Resolved secret %s via %s (%s)", v.SecretRef, ref.Backend, ref.LocatorSummary())
		}
		entry.Handle = h
		entries = append(entries, entry)
	}
	return entries, nil
}

// transportFor decides the effective transport. A remote policy transport
// must be requested explicitly with --remote.
func transportFor(target policy.Target, remote bool) (string, error) {
	if target.Set.Provider != policy.ProviderFileInject {
		if remote {
			return "", failure.Precondition("drop --remote; provider "+target.Set.Provider+" has no remote transport",
				"--remote is not supported by provider %s (target %s)", target.Set.Provider, target.ID)
		}
		return policy.TransportLocal, nil
	}

	switch target.Transport() {
	case policy.TransportRemote:
		if !remote {
			return "", failure.Precondition("pass --remote (with --approve-remote to apply)",
				"target %s uses remote transport, which must be selected with --remote", target.ID)
		}
		return policy.TransportRemote, nil
	case policy.TransportLocal:
		if !remote {
			return policy.TransportLocal, nil
		}
		if target.Set.Injection == nil || len(target.Set.Injection.Hosts) == 0 {
			return "", failure.Precondition("add injection.hosts to target "+target.ID+" or drop --remote",
				"--remote given but target %s has no hosts", target.ID)
		}
		return policy.TransportRemote, nil
	default:
		return "", failure.Validation("set injection.transport to local or remote",
			"unknown transport %q on target %s", target.Transport(), target.ID)
	}
}

// injectionPath expands the target's injection path. Local paths use the
// host separator.
func injectionPath(target policy.Target, scope envstate.Scope, transport string) (string, error) {
	p, err := target.InjectionPath(scope.Env, scope.Workload)
	if err != nil || transport == policy.TransportRemote {
		return p, err
	}
	return filepath.FromSlash(p), nil
}
