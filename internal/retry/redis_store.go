package retry

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "parabox:retry:"

// RedisStore keeps each queue in one Redis hash.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at addr. An empty prefix uses
// "parabox:retry:".
func NewRedisStore(addr, prefix string) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(queue string) string {
	return r.prefix + queue
}

func (r *RedisStore) Put(ctx context.Context, queue string, id int64, value []byte) error {
	return r.client.HSet(ctx, r.key(queue), strconv.FormatInt(id, 10), value).Err()
}

func (r *RedisStore) Delete(ctx context.Context, queue string, id int64) error {
	return r.client.HDel(ctx, r.key(queue), strconv.FormatInt(id, 10)).Err()
}

func (r *RedisStore) List(ctx context.Context, queue string) (map[int64][]byte, error) {
	fields, err := r.client.HGetAll(ctx, r.key(queue)).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]byte, len(fields))

	for field, value := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("queue %s: bad entry id %q: %w", queue, field, err)
		}

		out[id] = []byte(value)
	}

	return out, nil
}

func (r *RedisStore) Len(ctx context.Context, queue string) (int, error) {
	n, err := r.client.HLen(ctx, r.key(queue)).Result()

	return int(n), err
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
