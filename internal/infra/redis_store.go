// Package infra provides concrete infrastructure adapters behind the
// store.Store contract. cmd/api picks an adapter from config and the engines
// never see which backend they run on.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
)

// RedisStore backs store.Store with go-redis v9. Keys are stored under a
// configurable prefix so several deployments can share one Redis.
type RedisStore struct {
	rdb       *redis.Client
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies connectivity with a ping.
func NewRedisStore(addr, password string, db int, keyPrefix string) (*RedisStore, error) {
	if keyPrefix == "" {
		keyPrefix = "stellai:"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("redis store connected", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb, keyPrefix: keyPrefix}, nil
}

// Close shuts down the underlying client.
func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) redisKey(key store.Key) string {
	return s.keyPrefix + key.String()
}

func (s *RedisStore) Get(ctx context.Context, key store.Key) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key store.Key, value []byte) error {
	// No TTL: ledger records are durable until explicitly removed.
	if err := s.rdb.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key store.Key) error {
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Has(ctx context.Context, key store.Key) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}
