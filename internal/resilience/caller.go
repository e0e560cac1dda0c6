// Package resilience wraps network-bound backend calls with a timeout, retry
// with exponential backoff and jitter, and a circuit breaker. Transient
// failures never leak to callers as raw driver errors; they surface as
// ErrBackendUnavailable once the policy is exhausted.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/songdex/songdex/internal/config"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

type Caller struct {
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	breaker        *Breaker
}

func NewCaller(cfg config.ResilienceConfig) *Caller {
	return &Caller{
		timeout:        cfg.CallTimeout(),
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff(),
		maxBackoff:     cfg.MaxBackoff(),
		breaker:        NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown()),
	}
}

func (c *Caller) Breaker() *Breaker {
	return c.breaker
}

// Call runs op under the resilience policy. Each attempt gets its own
// timeout; only transient errors are retried. The breaker records the final
// outcome, so one logical call counts once against the failure threshold.
func (c *Caller) Call(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}
	err := c.retry(ctx, name, op)
	c.breaker.Record(err)
	return err
}

func (c *Caller) retry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff
	policy.MaxElapsedTime = 0
	attempts := uint64(0)
	if c.maxAttempts > 1 {
		attempts = uint64(c.maxAttempts - 1)
	}

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		callCtx := ctx
		cancel := func() {}
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Caller cancelled; do not keep retrying on their behalf.
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = appErr.Unavailablef("%s timed out after %s", name, c.timeout)
		}
		if !appErr.IsUnavailable(err) {
			return backoff.Permanent(err)
		}
		logutil.GetLogger(ctx).Warn("backend call failed, will retry",
			zap.String("op", name), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, attempts), ctx))
}
