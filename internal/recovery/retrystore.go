package recovery

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/northstack/katalyst/internal/config"
)

// RetryCountStore tracks how many recovery attempts have been made per
// workflow. The job consults it to classify MANUAL_INTERVENTION once a
// workflow's count reaches maxRetriesPerWorkflow, and clears the counter on a
// successful recovery (§4.13).
type RetryCountStore interface {
	Get(ctx context.Context, workflowID string) (int, error)
	Increment(ctx context.Context, workflowID string) (int, error)
	Clear(ctx context.Context, workflowID string) error
	Size(ctx context.Context) (int, error)
}

// MemoryRetryCountStore is the default in-memory retry-count map.
type MemoryRetryCountStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryRetryCountStore() *MemoryRetryCountStore {
	return &MemoryRetryCountStore{counts: make(map[string]int)}
}

func (s *MemoryRetryCountStore) Get(ctx context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[workflowID], nil
}

func (s *MemoryRetryCountStore) Increment(ctx context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[workflowID]++
	return s.counts[workflowID], nil
}

func (s *MemoryRetryCountStore) Clear(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, workflowID)
	return nil
}

func (s *MemoryRetryCountStore) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts), nil
}

// RedisRetryCountStore persists the retry-count map in Redis so it survives
// a coordinator process restart, the same "legitimate extension" rationale
// as dedup.RedisStore.
type RedisRetryCountStore struct {
	client redis.UniversalClient
	cfg    config.RedisConfig
}

func NewRedisRetryCountStore(cfg config.RedisConfig) (*RedisRetryCountStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisRetryCountStore{client: client, cfg: cfg}, nil
}

func (s *RedisRetryCountStore) key(workflowID string) string {
	return s.cfg.KeyPrefix + "retrycount:" + workflowID
}

func (s *RedisRetryCountStore) Get(ctx context.Context, workflowID string) (int, error) {
	n, err := s.client.Get(ctx, s.key(workflowID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisRetryCountStore) Increment(ctx context.Context, workflowID string) (int, error) {
	n, err := s.client.Incr(ctx, s.key(workflowID)).Result()
	return int(n), err
}

func (s *RedisRetryCountStore) Clear(ctx context.Context, workflowID string) error {
	return s.client.Del(ctx, s.key(workflowID)).Err()
}

func (s *RedisRetryCountStore) Size(ctx context.Context) (int, error) {
	var count int
	iter := s.client.Scan(ctx, 0, s.cfg.KeyPrefix+"retrycount:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}

func (s *RedisRetryCountStore) Close() error { return s.client.Close() }
