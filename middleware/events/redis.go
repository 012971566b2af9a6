package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pipeliner é o subconjunto do cliente Redis usado pelo sink
// (*redis.Client e *redis.ClusterClient atendem).
type Pipeliner interface {
	Pipeline() redis.Pipeliner
}

// RedisSink agrega eventos em hashes Redis para dashboards/alertas externos.
//
// Não guarda estado de rate limit nem de CSRF, apenas contadores de eventos.
type RedisSink struct {
	rdb Pipeliner

	prefix string
	// ttl aplica apenas em chaves de série temporal / por IP.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackIPs bool
}

type RedisOption func(*RedisSink)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisSink) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisSink) { s.ttl = d }
}

func WithBucket(bucket string) RedisOption {
	return func(s *RedisSink) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithRedisTrackIPs(track bool) RedisOption {
	return func(s *RedisSink) { s.trackIPs = track }
}

func NewRedisSink(rdb Pipeliner, opts ...RedisOption) *RedisSink {
	s := &RedisSink{
		rdb:    rdb,
		prefix: "gateway:events",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSink) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := fieldFor(ev)
	totalKey := s.prefix + ":total"

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, totalKey, field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Kind == KindDenial && ev.Reason != "" {
		pipe.HIncrBy(ctx, s.prefix+":reason", ev.Check+":"+ev.Reason, 1)
	}

	if ev.Route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", routeKey(ev)+":"+field, 1)
	}

	if s.trackIPs {
		if ip := strings.TrimSpace(ev.IP); ip != "" {
			ipKey := s.prefix + ":ip:" + ip
			pipe.HIncrBy(ctx, ipKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, ipKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func fieldFor(ev Event) string {
	switch ev.Kind {
	case KindFault:
		return "fault"
	case KindCollaborator:
		return "collaborator_failure"
	}
	if ev.Allowed {
		return "allowed"
	}
	return "denied"
}
