package commands

import (
	"github.com/vivekkundariya/envctl/internal/application/desired"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// withLock runs fn while holding the scope lock for the routed provider.
// The lock is released on every path.
func withLock(locker ports.Locker, res *desired.Result, fn func() error) error {
	scope := res.Target.Scope
	release, err := locker.Acquire(scope.Env, scope.Workload, res.Adapter.Name())
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			ui.Warnf("Failed to release lock for %s: %v", scope, err)
		}
	}()
	return fn()
}
