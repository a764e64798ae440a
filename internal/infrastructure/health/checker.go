// Package health polls the HTTP endpoint of a freshly configured workload.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/ui"
)

const (
	defaultRetries  = 5
	defaultInterval = 2 * time.Second
)

// Checker polls health endpoints until they answer 200
type Checker struct {
	client *http.Client

	// timeout bounds one request
	timeout time.Duration
}

// NewChecker creates a checker whose requests time out after timeout
func NewChecker(timeout time.Duration) ports.HealthChecker {
	return &Checker{client: &http.Client{}, timeout: timeout}
}

// Check polls check.URL until it is healthy or retries are exhausted
func (c *Checker) Check(ctx context.Context, check policy.Health) error {
	retries := check.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	interval := check.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	var last error
	for i := 0; i < retries; i++ {
		if last = c.once(ctx, check.URL); last == nil {
			return nil
		}
		ui.Debug("Health check %d/%d of %s: %v", i+1, retries, check.URL, last)

		if i == retries-1 {
			break
		}
		// Wait before retrying
		select {
		case <-ctx.Done():
			return failure.Classify(ctx.Err())
		case <-time.After(interval):
		}
	}

	return failure.Mark(
		errors.WithHint(errors.Wrapf(last, "health check of %s failed after %d attempts", check.URL, retries),
			"check the workload logs; the configuration was applied and verified"),
		failure.ErrUnreachable)
}

func (c *Checker) once(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
