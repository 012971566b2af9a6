package infra

import (
	"context"
	"sync"
	"time"

	"security-gateway/middleware/ratelimit/domain"
)

// WindowStore implementa domain.CounterStore com janelas fixas por chave.
//
// Cada chave carrega o próprio início de janela. Isso admite rajadas de até
// ~2x o limite na virada da janela, em troca de memória O(1) por chave.
type WindowStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*domain.Entry
	cleanupEvery time.Duration
	now          func() time.Time
}

type WindowOption func(*WindowStore)

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(s *WindowStore) { s.cleanupEvery = d }
}

// WithWindowClock troca o relógio (útil em testes).
func WithWindowClock(now func() time.Time) WindowOption {
	return func(s *WindowStore) { s.now = now }
}

func NewWindowStore(opts ...WindowOption) *WindowStore {
	s := &WindowStore{
		entries:      make(map[domain.Key]*domain.Entry),
		cleanupEvery: 5 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

func (s *WindowStore) Check(_ context.Context, key domain.Key, limit int, window time.Duration) (domain.Entry, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || now.After(ent.ResetAt()) {
		ent = &domain.Entry{
			Count:          1,
			FirstRequestAt: now,
			LastRequestAt:  now,
			Window:         window,
		}
		s.entries[key] = ent
		return *ent, true, nil
	}

	ent.LastRequestAt = now
	ent.Window = window
	if ent.Count < limit {
		ent.Count++
		ent.Blocked = false
		return *ent, true, nil
	}
	ent.Blocked = true
	return *ent, false, nil
}

func (s *WindowStore) Increment(_ context.Context, key domain.Key) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return domain.ErrUnknownKey
	}
	ent.Count++
	ent.LastRequestAt = now
	return nil
}

func (s *WindowStore) Count(_ context.Context, key domain.Key) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		return ent.Count, nil
	}
	return 0, nil
}

func (s *WindowStore) TimeRemaining(_ context.Context, key domain.Key) (time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if d := ent.ResetAt().Sub(now); d > 0 {
		return d, nil
	}
	return 0, nil
}

func (s *WindowStore) Reset(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *WindowStore) MarkSuspicious(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		return domain.ErrUnknownKey
	}
	ent.Suspicious = true
	return nil
}

// Len retorna o número de chaves em memória.
func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep remove entradas cuja janela expirou há mais tempo que a própria janela
// (ociosas por mais de 2x a janela). Idempotente.
func (s *WindowStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if now.After(ent.ResetAt().Add(ent.Window)) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que executa Sweep periodicamente.
// Pare cancelando o contexto.
func (s *WindowStore) StartJanitor(ctx DoneContext) {
	startJanitor(ctx, s.cleanupEvery, func() { s.Sweep() })
}
