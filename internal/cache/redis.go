package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// RedisStore keeps embeddings in Redis so several processes share one cache.
// Keys are prefix + fingerprint; values are packed little-endian float32.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys, typically by embedding model.
	Prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStoreFromClient(client, opts.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(fingerprint string) string {
	return r.prefix + fingerprint
}

func (r *RedisStore) Get(ctx context.Context, fingerprint string) ([]float32, bool, error) {
	buf, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := utils.DecodeVector(buf)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", fingerprint, err)
	}
	return v, true, nil
}

// Put writes the entry only if the key is absent.
func (r *RedisStore) Put(ctx context.Context, fingerprint string, v []float32) error {
	return r.client.SetNX(ctx, r.key(fingerprint), utils.EncodeVector(v), 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	return r.client.Del(ctx, r.key(fingerprint)).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
