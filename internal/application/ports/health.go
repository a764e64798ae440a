package ports

import (
	"context"

	"github.com/vivekkundariya/envctl/internal/domain/policy"
)

// HealthChecker checks a target's health endpoint after an apply
type HealthChecker interface {
	Check(ctx context.Context, check policy.Health) error
}
