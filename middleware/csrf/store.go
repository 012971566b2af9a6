package csrf

import (
	"context"
	"sync"
	"time"
)

// Entry é o token ativo de uma sessão.
type Entry struct {
	Token     string
	ExpiresAt time.Time
}

// Store guarda o token ativo por sessionID.
//
// A implementação em memória atende a uma instância; a interface permite trocar
// por um store compartilhado sem mexer na validação.
type Store interface {
	Put(sessionID string, e Entry)
	Get(sessionID string) (Entry, bool)
	Delete(sessionID string) bool
	Sweep(now time.Time) int
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Put(sessionID string, e Entry) {
	s.mu.Lock()
	s.entries[sessionID] = e
	s.mu.Unlock()
}

func (s *MemoryStore) Get(sessionID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	return e, ok
}

func (s *MemoryStore) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[sessionID]
	delete(s.entries, sessionID)
	return ok
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep remove tokens expirados. Idempotente.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if now.After(e.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// StartJanitor varre tokens expirados a cada `every` até o ctx encerrar.
func StartJanitor(ctx context.Context, s Store, every time.Duration, now func() time.Time) {
	if every <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(now())
			}
		}
	}()
}
