package persist

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Redis stores node data in a Redis hash per namespace. Values are
// msgpack-encoded.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis instance described by redisURL.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// namespaceKey returns the hash key holding one node's data.
func namespaceKey(namespace string) string {
	return fmt.Sprintf("nodedata:%s", namespace)
}

func (r *Redis) Store(ctx context.Context, namespace, key string, value any) error {
	enc, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	return r.client.HSet(ctx, namespaceKey(namespace), key, enc).Err()
}

func (r *Redis) Get(ctx context.Context, namespace, key string) (any, error) {
	enc, err := r.client.HGet(ctx, namespaceKey(namespace), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var value any
	if err := msgpack.Unmarshal(enc, &value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return value, nil
}
