package pushcomponent

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	fieldToken  = "token"
	fieldPaused = "paused"
)

// RedisRegistry keeps one hash per recipient: push:recipient:{id} -> {token, paused}.
type RedisRegistry struct {
	rdb redis.Cmdable
}

func NewRedisRegistry(rdb redis.Cmdable) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) Get(ctx context.Context, recipientID string) (Entry, error) {
	vals, err := r.rdb.HGetAll(ctx, registryKey(recipientID)).Result()
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Token:  vals[fieldToken],
		Paused: vals[fieldPaused] == "1",
	}, nil
}

func (r *RedisRegistry) SetToken(ctx context.Context, recipientID, token string) error {
	return r.rdb.HSet(ctx, registryKey(recipientID), fieldToken, token).Err()
}

func (r *RedisRegistry) DeleteToken(ctx context.Context, recipientID string) error {
	return r.rdb.HDel(ctx, registryKey(recipientID), fieldToken).Err()
}

func (r *RedisRegistry) SetPaused(ctx context.Context, recipientID string, paused bool) error {
	val := "0"
	if paused {
		val = "1"
	}
	return r.rdb.HSet(ctx, registryKey(recipientID), fieldPaused, val).Err()
}

func registryKey(recipientID string) string {
	return fmt.Sprintf("push:recipient:%s", recipientID)
}
