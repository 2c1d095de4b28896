package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CoinFox/internal/pkg/cache"
)

const (
	webhookOutcomesKeyPrefix = "payment:counters:webhooks:"
	counterTTL               = 35 * 24 * time.Hour
)

// DailyOutcomes is the per-outcome webhook tally of one UTC day.
type DailyOutcomes struct {
	Date     string           `json:"date"`
	Outcomes map[string]int64 `json:"outcomes"`
}

func dayKey(t time.Time) string {
	return webhookOutcomesKeyPrefix + t.UTC().Format("20060102")
}

// AddWebhookOutcome increments today's counter for outcome in Redis.
func AddWebhookOutcome(ctx context.Context, outcome string) error {
	return addWebhookOutcome(ctx, cache.GetClient(), outcome, time.Now())
}

func addWebhookOutcome(ctx context.Context, rdb *redis.Client, outcome string, now time.Time) error {
	key := dayKey(now)
	pipe := rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, outcome, 1)
	pipe.Expire(ctx, key, counterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RecentWebhookOutcomes returns the tallies of the last days, newest first.
func RecentWebhookOutcomes(ctx context.Context, days int) ([]DailyOutcomes, error) {
	return recentWebhookOutcomes(ctx, cache.GetClient(), days, time.Now())
}

func recentWebhookOutcomes(ctx context.Context, rdb *redis.Client, days int, now time.Time) ([]DailyOutcomes, error) {
	if days <= 0 {
		days = 7
	}
	if days > 31 {
		days = 31
	}

	pipe := rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, days)
	dates := make([]string, days)
	for i := 0; i < days; i++ {
		day := now.AddDate(0, 0, -i)
		dates[i] = day.UTC().Format("2006-01-02")
		cmds[i] = pipe.HGetAll(ctx, dayKey(day))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read webhook counters: %w", err)
	}

	out := make([]DailyOutcomes, 0, days)
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		outcomes := make(map[string]int64, len(data))
		for k, v := range data {
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				continue
			}
			outcomes[k] = n
		}
		out = append(out, DailyOutcomes{Date: dates[i], Outcomes: outcomes})
	}
	return out, nil
}
