package limits

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRateLimiter(client)
}

func TestAllowEnforcesParallelRequests(t *testing.T) {
	t.Parallel()

	limiter := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{ParallelRequests: 1}
	key := "user:alpha"

	require.NoError(t, limiter.Allow(ctx, key, cfg))
	require.ErrorIs(t, limiter.Allow(ctx, key, cfg), ErrLimitExceeded)

	limiter.Release(ctx, key, cfg)
	require.NoError(t, limiter.Allow(ctx, key, cfg))
}

func TestAllowEnforcesRequestsPerMinute(t *testing.T) {
	t.Parallel()

	limiter := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{RequestsPerMinute: 2}
	key := "user:bravo"

	require.NoError(t, limiter.Allow(ctx, key, cfg))
	require.NoError(t, limiter.Allow(ctx, key, cfg))
	require.ErrorIs(t, limiter.Allow(ctx, key, cfg), ErrLimitExceeded)
}

func TestTokenAllowanceRollsBackRejectedDebit(t *testing.T) {
	t.Parallel()

	limiter := newTestLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{TokensPerMinute: 10}
	key := "user:charlie"

	require.NoError(t, limiter.TokenAllowance(ctx, key, 6, cfg))
	require.ErrorIs(t, limiter.TokenAllowance(ctx, key, 6, cfg), ErrLimitExceeded)

	// The rejected increment must not eat into the remaining budget.
	window := time.Now().UTC().Unix() / 60
	used, err := limiter.client.Get(ctx, fmt.Sprintf("tpm:%s:%d", key, window)).Int()
	require.NoError(t, err)
	require.Equal(t, 6, used)

	require.NoError(t, limiter.TokenAllowance(ctx, key, 4, cfg))
}

func TestTokenAllowanceDisabledBudgetPassesEverything(t *testing.T) {
	t.Parallel()

	limiter := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, limiter.TokenAllowance(ctx, "user:delta", 1_000_000, LimitConfig{}))
}
