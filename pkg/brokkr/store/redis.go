package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods Redis depends on.
// Keeping it as an interface lets tests substitute a miniredis-backed
// client or a hand-rolled fake without touching the real network.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HKeys(ctx context.Context, key string) *redis.StringSliceCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis stores each table as a Redis hash named "<namespace>_<table>",
// per the hash-per-table driver contract: set/HSET, get/HGET,
// listKeys/HKEYS, multiGet/HMGET.
type Redis struct {
	client    RedisClient
	namespace string
}

// RedisConfig configures a Redis-backed store.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Namespace string
}

// NewRedis connects to a Redis instance and verifies it with Ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{Addr: cfg.Address, DB: cfg.DB}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis ping failed: %w", err)
	}

	return &Redis{client: client, namespace: cfg.Namespace}, nil
}

// NewRedisWithClient builds a Redis store over a pre-constructed client.
// Intended for tests that wire in a miniredis-backed client.
func NewRedisWithClient(client RedisClient, namespace string) *Redis {
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) hashKey(table string) string {
	if r.namespace == "" {
		return table
	}
	return r.namespace + "_" + table
}

// Set upserts value under (table, key) via HSET.
func (r *Redis) Set(ctx context.Context, table, key, value string) error {
	err := r.client.HSet(ctx, r.hashKey(table), key, value).Err()
	return wrap("set", table, key, err)
}

// Get returns the value stored under (table, key) via HGET, or Missing
// if absent.
func (r *Redis) Get(ctx context.Context, table, key string) (string, error) {
	v, err := r.client.HGet(ctx, r.hashKey(table), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", Missing
	}
	if err != nil {
		return "", wrap("get", table, key, err)
	}
	return v, nil
}

// ListKeys returns every field of the table's hash via HKEYS.
func (r *Redis) ListKeys(ctx context.Context, table string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.hashKey(table)).Result()
	if err != nil {
		return nil, wrap("listKeys", table, "", err)
	}
	return keys, nil
}

// MultiGet returns values positionally aligned with keys via HMGET.
func (r *Redis) MultiGet(ctx context.Context, table string, keys []string) ([]Result, error) {
	if len(keys) == 0 {
		return []Result{}, nil
	}

	raw, err := r.client.HMGet(ctx, r.hashKey(table), keys...).Result()
	if err != nil {
		return nil, wrap("multiGet", table, "", err)
	}

	results := make([]Result, len(keys))
	for i, v := range raw {
		if v == nil {
			results[i] = Result{OK: false}
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, wrap("multiGet", table, keys[i], fmt.Errorf("unexpected field type %T", v))
		}
		results[i] = Result{Value: s, OK: true}
	}
	return results, nil
}

// Close releases the underlying Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
