package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"
)

// incrementScript admits an attempt only while the counter is below ARGV[1].
// It returns the new count, or -1 when the limit is reached.
var incrementScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
	return -1
end
return redis.call('INCR', KEYS[1])
`)

var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
	return redis.call('DECR', KEYS[1])
end
return 0
`)

// RedisAttempts keeps attempt counters in Redis. It satisfies the same
// attempt contract as Store for deployments that run several replicas.
type RedisAttempts struct {
	client *redis.Client
	prefix string
}

// NewRedisAttempts connects to addr and verifies the connection.
func NewRedisAttempts(ctx context.Context, addr, password string, db int) (*RedisAttempts, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisAttempts{client: client, prefix: "assessor:attempts:"}, nil
}

func (r *RedisAttempts) key(studentID, assessmentID string) string {
	return r.prefix + studentID + ":" + assessmentID
}

func (r *RedisAttempts) AttemptCount(ctx context.Context, studentID, assessmentID string) (int, error) {
	n, err := r.client.Get(ctx, r.key(studentID, assessmentID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *RedisAttempts) IncrementAttemptIfUnderLimit(ctx context.Context, studentID, assessmentID string, limit int) (int, bool, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	n, err := incrementScript.Run(ctx, r.client, []string{r.key(studentID, assessmentID)}, limit).Int()
	if err != nil {
		return 0, false, err
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (r *RedisAttempts) ReleaseAttempt(ctx context.Context, studentID, assessmentID string) error {
	return releaseScript.Run(ctx, r.client, []string{r.key(studentID, assessmentID)}).Err()
}

// Ping checks the Redis connection.
func (r *RedisAttempts) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisAttempts) Close() error {
	return r.client.Close()
}
