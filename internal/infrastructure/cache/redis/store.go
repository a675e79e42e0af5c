package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kmorozov/ragengine/internal/observability/metrics"
)

// Store implements the engine cache on Redis. All mutations are single-key
// upserts, so concurrent requests need no locking beyond Redis's own atomic
// key operations. Key indexes are sets keyed by document id and back the
// delete-by-document invalidation path.
type Store struct {
	client  *redis.Client
	metrics *metrics.CacheMetrics
}

type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	Metrics      *metrics.CacheMetrics
}

func New(ctx context.Context, options Options) (*Store, error) {
	dialTimeout := options.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	poolSize := options.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         options.Addr,
		Password:     options.Password,
		DB:           options.DB,
		PoolSize:     poolSize,
		MinIdleConns: options.MinIdleConns,
		DialTimeout:  dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Store{client: client, metrics: options.Metrics}, nil
}

// NewWithClient wires an existing client, used by tests with miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.metrics.ObserveLookup(namespaceOf(key), false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	s.metrics.ObserveLookup(namespaceOf(key), true)
	return raw, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) AddToIndex(ctx context.Context, indexKey, member string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, indexKey, member)
	// The index only needs to outlive the entries it references.
	pipe.Expire(ctx, indexKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

func (s *Store) IndexMembers(ctx context.Context, indexKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

// namespaceOf extracts the logical namespace from a "rag:<ns>:<hash>" key
// for metric labels.
func namespaceOf(key string) string {
	first := -1
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			if first >= 0 {
				return key[first+1 : i]
			}
			first = i
		}
	}
	return "unknown"
}
