package relay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Janitor cleans up the pub/sub streams a pairing topic leaves behind.
// Approvals carry the one-time code, so their streams must not outlive the
// pairing.
type Janitor interface {
	Expire(ctx context.Context, stream string, ttl time.Duration) error
	Forget(ctx context.Context, stream string) error
}

// RedisJanitor cleans up redis streams written by watermill-redisstream
type RedisJanitor struct {
	client redis.UniversalClient
}

var _ Janitor = (*RedisJanitor)(nil)

// NewRedisJanitor creates a janitor over the client the streams live in
func NewRedisJanitor(client redis.UniversalClient) *RedisJanitor {
	return &RedisJanitor{client: client}
}

// Expire sets a TTL on the stream
func (j *RedisJanitor) Expire(ctx context.Context, stream string, ttl time.Duration) error {
	return j.client.Expire(ctx, stream, ttl).Err()
}

// Forget deletes the stream
func (j *RedisJanitor) Forget(ctx context.Context, stream string) error {
	return j.client.Del(ctx, stream).Err()
}
