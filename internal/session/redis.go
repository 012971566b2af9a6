// Package session resolve a sessão da requisição a partir de um hash Redis
// gravado pela aplicação: session:<id> -> {user_id, account_type, expires_at}.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"security-gateway/middleware/gateway"
)

// HashReader é o subconjunto do cliente Redis usado aqui.
type HashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

const (
	fieldUserID      = "user_id"
	fieldAccountType = "account_type"
	fieldExpiresAt   = "expires_at"
	// fieldRefreshing é marcado pela aplicação enquanto troca o token.
	fieldRefreshing = "refreshing"
)

type RedisProvider struct {
	rdb        HashReader
	prefix     string
	cookieName string
	now        func() time.Time
}

type Option func(*RedisProvider)

func WithKeyPrefix(prefix string) Option {
	return func(p *RedisProvider) { p.prefix = prefix }
}

func WithCookieName(name string) Option {
	return func(p *RedisProvider) { p.cookieName = name }
}

func WithClock(now func() time.Time) Option {
	return func(p *RedisProvider) { p.now = now }
}

func NewRedisProvider(rdb HashReader, opts ...Option) *RedisProvider {
	p := &RedisProvider{
		rdb:        rdb,
		prefix:     "session:",
		cookieName: "session_id",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ gateway.SessionProvider = (*RedisProvider)(nil)

// GetSession devolve (nil, nil) para requisição sem cookie, sessão
// inexistente ou expirada.
func (p *RedisProvider) GetSession(ctx context.Context, r *http.Request) (*gateway.Session, error) {
	c, err := r.Cookie(p.cookieName)
	if err != nil || c.Value == "" {
		return nil, nil
	}

	fields, err := p.rdb.HGetAll(ctx, p.prefix+c.Value).Result()
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	if len(fields) == 0 || fields[fieldUserID] == "" {
		return nil, nil
	}
	if fields[fieldRefreshing] == "1" {
		return nil, gateway.ErrSessionInFlight
	}
	if v := fields[fieldExpiresAt]; v != "" {
		exp, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("session: bad %s %q: %w", fieldExpiresAt, v, err)
		}
		if !p.now().Before(time.Unix(exp, 0)) {
			return nil, nil
		}
	}

	return &gateway.Session{
		UserID:      fields[fieldUserID],
		AccountType: fields[fieldAccountType],
	}, nil
}
