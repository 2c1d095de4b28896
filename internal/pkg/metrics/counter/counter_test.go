package counter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

const isolatedCounterTestRedisDB = 13

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       isolatedCounterTestRedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestWebhookOutcomeCounters(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, addWebhookOutcome(ctx, rdb, "credited", now))
	require.NoError(t, addWebhookOutcome(ctx, rdb, "credited", now))
	require.NoError(t, addWebhookOutcome(ctx, rdb, "duplicate", now))
	require.NoError(t, addWebhookOutcome(ctx, rdb, "rejected", now.AddDate(0, 0, -1)))

	days, err := recentWebhookOutcomes(ctx, rdb, 3, now)
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.Equal(t, "2026-03-02", days[0].Date)
	assert.Equal(t, int64(2), days[0].Outcomes["credited"])
	assert.Equal(t, int64(1), days[0].Outcomes["duplicate"])
	assert.Equal(t, "2026-03-01", days[1].Date)
	assert.Equal(t, int64(1), days[1].Outcomes["rejected"])
	assert.Empty(t, days[2].Outcomes)

	ttl, err := rdb.TTL(ctx, dayKey(now)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestDayKeyUsesUTC(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	at := time.Date(2026, 3, 2, 3, 0, 0, 0, manila)
	assert.Equal(t, webhookOutcomesKeyPrefix+"20260301", dayKey(at))
}
