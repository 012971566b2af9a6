package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"security-gateway/middleware/ratelimit/domain"
)

// Request é a visão do rate limit sobre uma requisição.
type Request struct {
	IP        string
	Path      string
	UserAgent string
}

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store    domain.CounterStore
	Policies map[string]domain.Policy
	Default  domain.Policy

	BlockList   domain.IPSet
	AllowList   domain.IPSet
	Suspicious  domain.Quarantine
	Concurrency domain.ConcurrencyLimiter
	Heuristics  Heuristics

	// ConcurrencyRetryAfter é a recomendação de Retry-After quando o teto de
	// concorrência nega. Padrão: 1s.
	ConcurrencyRetryAfter time.Duration

	Now func() time.Time
}

// DefaultPolicy é a política geral da API quando não há entrada por path.
var DefaultPolicy = domain.Policy{Window: time.Minute, MaxRequests: 100}

const uaFingerprintLen = 16

// IdentityKey monta a chave composta IP|path|fingerprint(UA).
func IdentityKey(ip, path, userAgent string) domain.Key {
	sum := sha256.Sum256([]byte(userAgent))
	return domain.Key(ip + "|" + path + "|" + hex.EncodeToString(sum[:])[:uaFingerprintLen])
}

// PolicyFor resolve a política por match exato do path.
func (s Service) PolicyFor(path string) domain.Policy {
	if p, ok := s.Policies[path]; ok && p.MaxRequests > 0 && p.Window > 0 {
		return p
	}
	if s.Default.MaxRequests > 0 && s.Default.Window > 0 {
		return s.Default
	}
	return DefaultPolicy
}

func noop() {}

func (s Service) Check(ctx context.Context, req Request) (domain.Decision, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	policy := s.PolicyFor(req.Path)

	if s.BlockList != nil && s.BlockList.Contains(req.IP) {
		return deny(domain.ReasonBlocked, policy, now, 0), nil
	}
	if s.AllowList != nil && s.AllowList.Contains(req.IP) {
		return domain.Decision{Allowed: true, Bypass: true, Release: noop}, nil
	}
	if s.Suspicious != nil && s.Suspicious.Contains(req.IP) {
		return deny(domain.ReasonSuspicious, policy, now, policy.Window), nil
	}

	release := noop
	if s.Concurrency != nil {
		r, ok := s.Concurrency.Acquire(req.IP)
		if !ok {
			retry := s.ConcurrencyRetryAfter
			if retry <= 0 {
				retry = time.Second
			}
			return deny(domain.ReasonConcurrency, policy, now, retry), nil
		}
		release = r
	}

	if s.Store == nil {
		return domain.Decision{Allowed: true, Limit: policy.MaxRequests, Remaining: policy.MaxRequests, Release: release}, nil
	}

	key := IdentityKey(req.IP, req.Path, req.UserAgent)
	entry, allowed, err := s.Store.Check(ctx, key, policy.MaxRequests, policy.Window)
	if err != nil {
		release()
		return domain.Decision{}, fmt.Errorf("ratelimit: check %q: %w", key, err)
	}

	resetAt := entry.ResetAt()
	retryAfter := resetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}

	if v := s.Heuristics.Evaluate(key, entry); v.Suspicious {
		release()
		if s.Suspicious != nil {
			s.Suspicious.Add(req.IP, v.Rule)
		}
		if err := s.Store.MarkSuspicious(ctx, key); err != nil {
			return domain.Decision{}, fmt.Errorf("ratelimit: mark suspicious %q: %w", key, err)
		}
		dec := deny(domain.ReasonSuspicious, policy, now, retryAfter)
		dec.ResetAt = resetAt
		return dec, nil
	}

	if !allowed {
		release()
		dec := deny(domain.ReasonRateLimited, policy, now, retryAfter)
		dec.ResetAt = resetAt
		return dec, nil
	}

	remaining := policy.MaxRequests - entry.Count
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
		Release:   release,
	}, nil
}

func deny(reason domain.Reason, policy domain.Policy, now time.Time, retryAfter time.Duration) domain.Decision {
	return domain.Decision{
		Allowed:    false,
		Reason:     reason,
		Limit:      policy.MaxRequests,
		Remaining:  0,
		ResetAt:    now.Add(retryAfter),
		RetryAfter: retryAfter,
		Release:    noop,
	}
}
