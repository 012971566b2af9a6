package infra

import (
	"context"
	"math"
	"sync"
	"time"

	"security-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// TokenBucketStore é uma alternativa ao WindowStore baseada em token-bucket
// (x/time/rate), com cache por chave e limpeza periódica.
//
// Atende ao mesmo contrato domain.CounterStore, mas reabastece continuamente:
// não existe a rajada de ~2x na virada da janela. Count é derivado dos tokens
// consumidos; FirstRequestAt marca o início da rajada atual (reinicia quando o
// bucket volta a ficar cheio).
type TokenBucketStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*bucketEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type bucketEntry struct {
	lim        *rate.Limiter
	limit      int
	window     time.Duration
	first      time.Time
	lastSeen   time.Time
	blocked    bool
	suspicious bool
}

type StoreOption func(*TokenBucketStore)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *TokenBucketStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *TokenBucketStore) { s.cleanupEvery = d }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *TokenBucketStore) { s.now = now }
}

func NewTokenBucketStore(opts ...StoreOption) *TokenBucketStore {
	s := &TokenBucketStore{
		entries:      make(map[domain.Key]*bucketEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenBucketStore) CleanupEvery() time.Duration { return s.cleanupEvery }

func (s *TokenBucketStore) Check(_ context.Context, key domain.Key, limit int, window time.Duration) (domain.Entry, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.entry(key, limit, window, now)
	if ent.lim.TokensAt(now) >= float64(ent.limit) {
		// bucket cheio: nova rajada
		ent.first = now
	}
	allowed := ent.lim.AllowN(now, 1)
	ent.lastSeen = now
	ent.blocked = !allowed
	return ent.snapshot(now), allowed, nil
}

func (s *TokenBucketStore) Increment(_ context.Context, key domain.Key) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return domain.ErrUnknownKey
	}
	// ReserveN consome mesmo sem token disponível (saldo negativo).
	ent.lim.ReserveN(now, 1)
	ent.lastSeen = now
	return nil
}

func (s *TokenBucketStore) Count(_ context.Context, key domain.Key) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	return ent.snapshot(now).Count, nil
}

func (s *TokenBucketStore) TimeRemaining(_ context.Context, key domain.Key) (time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	return ent.untilToken(now), nil
}

func (s *TokenBucketStore) Reset(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *TokenBucketStore) MarkSuspicious(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return domain.ErrUnknownKey
	}
	ent.suspicious = true
	return nil
}

func (s *TokenBucketStore) entry(key domain.Key, limit int, window time.Duration, now time.Time) *bucketEntry {
	if ent, ok := s.entries[key]; ok && ent.limit == limit && ent.window == window {
		return ent
	}
	every := window / time.Duration(max(limit, 1))
	ent := &bucketEntry{
		lim:    rate.NewLimiter(rate.Every(every), limit),
		limit:  limit,
		window: window,
		first:  now,
	}
	s.entries[key] = ent
	return ent
}

func (e *bucketEntry) snapshot(now time.Time) domain.Entry {
	used := float64(e.limit) - e.lim.TokensAt(now)
	count := int(math.Ceil(used))
	if count < 0 {
		count = 0
	}
	return domain.Entry{
		Count:          count,
		FirstRequestAt: e.first,
		LastRequestAt:  e.lastSeen,
		Window:         e.window,
		Blocked:        e.blocked,
		Suspicious:     e.suspicious,
	}
}

// untilToken é o tempo até o próximo token ficar disponível.
func (e *bucketEntry) untilToken(now time.Time) time.Duration {
	tokens := e.lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	perToken := e.window / time.Duration(max(e.limit, 1))
	return time.Duration((1 - tokens) * float64(perToken))
}

// Sweep remove chaves inativas há mais de idleTTL.
func (s *TokenBucketStore) Sweep() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *TokenBucketStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, func() { s.Sweep() })
}

// DoneContext é o mínimo necessário para aceitar context.Context nos janitors.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}

func startJanitor(ctx DoneContext, every time.Duration, sweep func()) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sweep()
			}
		}
	}()
}
