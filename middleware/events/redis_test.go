package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requer um Redis real: REDIS_ADDR=localhost:6379 go test ./...
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisSink_Record(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	prefix := "test:events:" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	})

	s := NewRedisSink(rdb, WithPrefix(prefix), WithTTL(time.Minute), WithRedisTrackIPs(true))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Event{Kind: KindDecision, Allowed: true, Method: "GET", Path: "/", Route: "page", IP: "10.0.0.1", At: at}))
	require.NoError(t, s.Record(ctx, Event{Kind: KindDenial, Check: "csrf_check", Reason: "missing token", Method: "POST", Path: "/api/votes/9f2c", Route: "api", IP: "10.0.0.1", At: at}))

	total, err := rdb.HGetAll(ctx, prefix+":total").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"allowed": "1", "denied": "1"}, total)

	minute, err := rdb.HGet(ctx, prefix+":minute:202601020304", "denied").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", minute)

	reason, err := rdb.HGet(ctx, prefix+":reason", "csrf_check:missing token").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", reason)

	routes, err := rdb.HGetAll(ctx, prefix+":route").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"GET page:allowed": "1", "POST api:denied": "1"}, routes)

	ttl, err := rdb.TTL(ctx, prefix+":ip:10.0.0.1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisSink_NilClientIsNoop(t *testing.T) {
	var s *RedisSink
	assert.NoError(t, s.Record(context.Background(), Event{}))
	assert.NoError(t, NewRedisSink(nil).Record(context.Background(), Event{}))
}
