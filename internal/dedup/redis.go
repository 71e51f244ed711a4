package dedup

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/northstack/katalyst/internal/config"
)

// RedisStore is the Redis-backed Store, the "legitimate extension" SPEC_FULL
// names for a multi-process deployment where the C10 record must outlive a
// single coordinator instance. Published markers carry config.RedisConfig's
// DedupTTL so the set self-prunes without a separate sweep.
type RedisStore struct {
	client redis.UniversalClient
	cfg    config.RedisConfig
}

// NewRedisStore dials addr per cfg and confirms connectivity.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, cfg: cfg}, nil
}

func (s *RedisStore) key(eventID string) string {
	return s.cfg.KeyPrefix + "dedup:" + eventID
}

func (s *RedisStore) IsEventPublished(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) MarkAsPublished(ctx context.Context, eventID string) error {
	ttl := s.cfg.DedupTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	// NX: idempotent, a second mark of an already-published id is a no-op.
	return s.client.SetNX(ctx, s.key(eventID), time.Now().Unix(), ttl).Err()
}

// DeletePublishedBefore is a best-effort sweep that runs only when DedupTTL
// is zero or negative (MarkAsPublished still gives those markers a 24-hour
// expiry); with a positive TTL, Redis already reaps expired markers on its
// own and this simply reports zero.
func (s *RedisStore) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	if s.cfg.DedupTTL > 0 {
		return 0, nil
	}

	var deleted int64
	iter := s.client.Scan(ctx, 0, s.cfg.KeyPrefix+"dedup:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		unixSeconds, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		if time.Unix(unixSeconds, 0).Before(before) {
			if err := s.client.Del(ctx, key).Err(); err == nil {
				deleted++
			}
		}
	}
	return deleted, iter.Err()
}

func (s *RedisStore) GetPublishedCount(ctx context.Context) (int64, error) {
	var count int64
	iter := s.client.Scan(ctx, 0, s.cfg.KeyPrefix+"dedup:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
