package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/songdex/songdex/internal/config"
	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

func testConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		CallTimeoutMS:     1000,
		MaxAttempts:       3,
		InitialBackoffMS:  1,
		MaxBackoffMS:      5,
		BreakerThreshold:  3,
		BreakerCooldownMS: 50,
	}
}

func TestCallerRetriesTransient(t *testing.T) {
	c := NewCaller(testConfig())
	attempts := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return appErr.Unavailablef("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestCallerExhaustsAttempts(t *testing.T) {
	c := NewCaller(testConfig())
	attempts := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		return appErr.Unavailablef("down")
	})
	require.Error(t, err)
	require.True(t, appErr.IsUnavailable(err))
	require.Equal(t, 3, attempts)
}

func TestCallerNoRetryOnPermanent(t *testing.T) {
	c := NewCaller(testConfig())
	attempts := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		return appErr.Validationf("bad input")
	})
	require.Error(t, err)
	require.True(t, appErr.IsValidation(err))
	require.Equal(t, 1, attempts)
}

func TestCallerNotFoundNotRetried(t *testing.T) {
	c := NewCaller(testConfig())
	attempts := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		return appErr.ErrNotFound
	})
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Equal(t, 1, attempts)
}

func TestCallerStopsOnCancel(t *testing.T) {
	c := NewCaller(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := c.Call(ctx, "op", func(callCtx context.Context) error {
		attempts++
		cancel()
		return appErr.Unavailablef("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(appErr.Unavailablef("down"))
	}
	require.Equal(t, StateOpen, b.State())
	require.Error(t, b.Allow())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(appErr.Unavailablef("down"))
	}
	require.NoError(t, b.Allow())
	b.Record(nil)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(appErr.Unavailablef("down"))
	}
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresPermanentErrors(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Allow())
		b.Record(appErr.Validationf("bad"))
	}
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(1, 10*time.Second)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.Record(appErr.Unavailablef("down"))
	require.Equal(t, StateOpen, b.State())
	require.Error(t, b.Allow())

	// Cooldown elapses: exactly one probe is admitted.
	now = now.Add(11 * time.Second)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())
	require.Error(t, b.Allow())

	// Probe succeeds: circuit closes again.
	b.Record(nil)
	require.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())
}

func TestBreakerHalfOpenProbeFails(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(1, 10*time.Second)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.Record(appErr.Unavailablef("down"))

	now = now.Add(11 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(appErr.Unavailablef("still down"))
	require.Equal(t, StateOpen, b.State())
	require.Error(t, b.Allow())
}

func TestCallerFailsFastWhenOpen(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 1
	c := NewCaller(cfg)

	_ = c.Call(context.Background(), "op", func(ctx context.Context) error {
		return appErr.Unavailablef("down")
	})
	require.Equal(t, StateOpen, c.Breaker().State())

	calls := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.True(t, appErr.IsUnavailable(err))
	require.Equal(t, 0, calls)
}

func TestBreakerOneLogicalCallOneFailure(t *testing.T) {
	// Retries inside a call must not each count against the threshold.
	cfg := testConfig()
	cfg.BreakerThreshold = 2
	c := NewCaller(cfg)

	_ = c.Call(context.Background(), "op", func(ctx context.Context) error {
		return appErr.Unavailablef("down")
	})
	require.Equal(t, StateClosed, c.Breaker().State())

	_ = c.Call(context.Background(), "op", func(ctx context.Context) error {
		return appErr.Unavailablef("down")
	})
	require.Equal(t, StateOpen, c.Breaker().State())
}

var errSentinel = errors.New("sentinel")

func TestCallerPreservesErrorIdentity(t *testing.T) {
	c := NewCaller(testConfig())
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		return errSentinel
	})
	require.ErrorIs(t, err, errSentinel)
}
