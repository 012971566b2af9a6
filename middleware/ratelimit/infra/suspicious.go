package infra

import (
	"sort"
	"sync"
	"time"

	"security-gateway/middleware/ratelimit/domain"
)

// SuspiciousSet guarda IPs em quarentena pela heurística de abuso.
//
// Não há expiração automática: só Remove (revisão manual) tira um IP.
type SuspiciousSet struct {
	mu      sync.RWMutex
	entries map[string]SuspiciousEntry
	now     func() time.Time
}

type SuspiciousEntry struct {
	IP        string    `json:"ip"`
	Rule      string    `json:"rule"`
	FlaggedAt time.Time `json:"flagged_at"`
}

var _ domain.IPSet = (*SuspiciousSet)(nil)

func NewSuspiciousSet() *SuspiciousSet {
	return &SuspiciousSet{
		entries: make(map[string]SuspiciousEntry),
		now:     time.Now,
	}
}

// Add retorna true se o IP ainda não estava no conjunto.
func (s *SuspiciousSet) Add(ip, rule string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[ip]; ok {
		return false
	}
	s.entries[ip] = SuspiciousEntry{IP: ip, Rule: rule, FlaggedAt: s.now()}
	return true
}

func (s *SuspiciousSet) Remove(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[ip]
	delete(s.entries, ip)
	return ok
}

func (s *SuspiciousSet) Contains(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[ip]
	return ok
}

func (s *SuspiciousSet) List() []SuspiciousEntry {
	s.mu.RLock()
	out := make([]SuspiciousEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}
