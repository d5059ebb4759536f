package storage

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// RedisBackend stores entries in Redis, giving operators a durable and
// distributed alternative to MemoryBackend. Keys are namespaced by prefixing
// the logical key with a configurable string so one Redis instance can be
// shared across independent substrates.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing go-redis client. prefix is prepended to
// every logical key (use e.g. "acube:" to namespace a shared instance).
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(k string) string { return b.prefix + k }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, sdkerrors.StorageUnavailable(err)
	}
	return val, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return sdkerrors.StorageUnavailable(err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, b.key(key)).Result()
	if err != nil {
		return false, sdkerrors.StorageUnavailable(err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, sdkerrors.StorageUnavailable(err)
	}
	return n > 0, nil
}

func (b *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := b.client.Scan(ctx, 0, b.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), b.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, sdkerrors.StorageUnavailable(err)
	}
	return out, nil
}

func (b *RedisBackend) Clear(ctx context.Context, prefix string) error {
	keys, err := b.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := b.client.Del(ctx, full...).Err(); err != nil {
		return sdkerrors.StorageUnavailable(err)
	}
	return nil
}

func (b *RedisBackend) Close() error { return b.client.Close() }
