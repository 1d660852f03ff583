package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

// newTestRedis connects to REDIS_ADDR and skips when it is unset.
func newTestRedis(t *testing.T) *RedisAttempts {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	r, err := NewRedisAttempts(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("NewRedisAttempts: %v", err)
	}
	r.prefix = "assessor:test:" + uuid.NewString() + ":"
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedisAttempts(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	if n, err := r.AttemptCount(ctx, "alice", "lab"); err != nil || n != 0 {
		t.Fatalf("AttemptCount = %d, %v", n, err)
	}
	for want := 1; want <= 2; want++ {
		attempt, ok, err := r.IncrementAttemptIfUnderLimit(ctx, "alice", "lab", 2)
		if err != nil || !ok || attempt != want {
			t.Fatalf("attempt %d: got (%d, %v, %v)", want, attempt, ok, err)
		}
	}
	if _, ok, _ := r.IncrementAttemptIfUnderLimit(ctx, "alice", "lab", 2); ok {
		t.Error("third attempt should be refused")
	}
	if err := r.ReleaseAttempt(ctx, "alice", "lab"); err != nil {
		t.Fatalf("ReleaseAttempt: %v", err)
	}
	if n, _ := r.AttemptCount(ctx, "alice", "lab"); n != 1 {
		t.Errorf("count after release = %d, want 1", n)
	}
}
