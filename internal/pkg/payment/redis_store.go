package payment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/CoinFox/app/models"
)

const RedisEventKeyPrefix = "coinfox:payment:event:"

// Markers are hashes. A pending marker expires with its lease, terminal
// markers live for the retention window.
var (
	reserveScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status then
  return status
end
redis.call('HSET', KEYS[1], 'status', 'pending', 'token', ARGV[1], 'user_id', ARGV[2],
  'coins', ARGV[3], 'cash', ARGV[4], 'event_type', ARGV[5], 'created_at', ARGV[6],
  'currency', ARGV[8], 'payment_method', ARGV[9])
redis.call('PEXPIRE', KEYS[1], ARGV[7])
return 'acquired'
`)

	adoptPartialScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'partial' then
  return 0
end
redis.call('HSET', KEYS[1], 'token', ARGV[1])
return 1
`)

	completeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'completed' then
  return 0
end
if status and redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'completed', 'token', ARGV[1], 'processed_at', ARGV[2], 'error', '')
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

	partialScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'partial', 'processed_at', ARGV[2], 'error', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') == ARGV[1] and redis.call('HGET', KEYS[1], 'status') == 'pending' then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
)

type redisReservationStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisReservationStore keeps idempotency markers in Redis. Expired
// pending leases disappear on their own, so a takeover is a fresh reserve.
func NewRedisReservationStore(client *redis.Client, retention time.Duration) ReservationStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &redisReservationStore{client: client, retention: retention}
}

func redisEventKey(eventID string) string {
	return RedisEventKeyPrefix + eventID
}

func (s *redisReservationStore) Reserve(ctx context.Context, rec *models.ProcessedEvent, lease time.Duration, now time.Time) (*Reservation, error) {
	token := uuid.NewString()
	key := redisEventKey(rec.EventID)

	status, err := reserveScript.Run(ctx, s.client, []string{key},
		token,
		rec.UserID,
		strconv.FormatInt(rec.CoinAmount, 10),
		rec.CashAmount.StringFixed(2),
		rec.EventType,
		now.UTC().Format(time.RFC3339Nano),
		lease.Milliseconds(),
		rec.Currency,
		rec.PaymentMethod,
	).Text()
	if err != nil {
		return nil, storeErr("reserve event", err)
	}

	switch models.ProcessedEventStatus(status) {
	case "acquired":
		leaseUntil := now.Add(lease)
		rec.Status = models.ProcessedEventPending
		rec.OwnerToken = token
		rec.LeaseUntil = &leaseUntil
		return &Reservation{EventID: rec.EventID, Token: token, State: ReserveAcquired, Record: rec}, nil
	case models.ProcessedEventCompleted:
		return &Reservation{EventID: rec.EventID, State: ReserveDuplicate}, nil
	case models.ProcessedEventPartial:
		adopted, err := adoptPartialScript.Run(ctx, s.client, []string{key}, token).Int()
		if err != nil {
			return nil, storeErr("adopt partial marker", err)
		}
		if adopted == 0 {
			return &Reservation{EventID: rec.EventID, State: ReserveInFlight}, nil
		}
		stored, err := s.Lookup(ctx, rec.EventID)
		if err != nil {
			return nil, err
		}
		return &Reservation{EventID: rec.EventID, Token: token, State: ReservePartial, Record: stored}, nil
	default:
		return &Reservation{EventID: rec.EventID, State: ReserveInFlight}, nil
	}
}

func (s *redisReservationStore) Complete(ctx context.Context, eventID, token string, now time.Time) error {
	ok, err := completeScript.Run(ctx, s.client, []string{redisEventKey(eventID)},
		token, now.UTC().Format(time.RFC3339Nano), s.retention.Milliseconds()).Int()
	if err != nil {
		return storeErr("complete event marker", err)
	}
	if ok == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (s *redisReservationStore) MarkPartial(ctx context.Context, eventID, token, reason string, now time.Time) error {
	ok, err := partialScript.Run(ctx, s.client, []string{redisEventKey(eventID)},
		token, now.UTC().Format(time.RFC3339Nano), truncate(reason, 1000), s.retention.Milliseconds()).Int()
	if err != nil {
		return storeErr("mark event partial", err)
	}
	if ok == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (s *redisReservationStore) Release(ctx context.Context, eventID, token string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{redisEventKey(eventID)}, token).Int()
	if err != nil {
		return storeErr("release event marker", err)
	}
	if n == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (s *redisReservationStore) Lookup(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	key := redisEventKey(eventID)
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, storeErr("lookup event marker", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := recordFromHash(eventID, fields)
	if rec.Status == models.ProcessedEventPending {
		ttl, err := s.client.PTTL(ctx, key).Result()
		if err == nil && ttl > 0 {
			leaseUntil := time.Now().Add(ttl)
			rec.LeaseUntil = &leaseUntil
		}
	}
	return rec, nil
}

// ListStaleReservations returns partial markers. Pending markers expire by
// TTL and never go stale here.
func (s *redisReservationStore) ListStaleReservations(ctx context.Context, now time.Time, limit int) ([]models.ProcessedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.ProcessedEvent
	iter := s.client.Scan(ctx, 0, RedisEventKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) && len(out) < limit {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		if models.ProcessedEventStatus(fields["status"]) != models.ProcessedEventPartial {
			continue
		}
		out = append(out, *recordFromHash(key[len(RedisEventKeyPrefix):], fields))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func recordFromHash(eventID string, fields map[string]string) *models.ProcessedEvent {
	coins, _ := strconv.ParseInt(fields["coins"], 10, 64)
	cash, err := decimal.NewFromString(fields["cash"])
	if err != nil {
		cash = decimal.Zero
	}
	rec := &models.ProcessedEvent{
		Provider:        models.ProviderPaymongo,
		EventID:         eventID,
		EventType:       fields["event_type"],
		UserID:          fields["user_id"],
		CoinAmount:      coins,
		CashAmount:      cash,
		Currency:        fields["currency"],
		PaymentMethod:   fields["payment_method"],
		Status:          models.ProcessedEventStatus(fields["status"]),
		OwnerToken:      fields["token"],
		ProcessingError: fields["error"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["processed_at"]); err == nil {
		rec.ProcessedAt = &t
	}
	return rec
}
