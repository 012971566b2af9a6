package events

import (
	"context"
	"sync"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// Snapshot é a fotografia dos contadores para a API admin.
type Snapshot struct {
	Total    Counters            `json:"total"`
	Faults   int64               `json:"faults"`
	ByRoute  map[string]Counters `json:"by_route"`
	ByReason map[string]int64    `json:"by_reason"`
	ByIP     map[string]Counters `json:"by_ip,omitempty"`
}

// MemorySink é uma implementação simples em memória.
// Alimenta o endpoint /admin/stats e os testes.
//
// Não faz expiração. byRoute é limitado a maxRoutes chaves; o excedente cai em
// OtherRoute. Com WithTrackIPs a cardinalidade cresce com os clientes.
type MemorySink struct {
	mu       sync.Mutex
	total    Counters
	faults   int64
	byRoute  map[string]Counters
	byReason map[string]int64
	byIP     map[string]Counters

	trackIPs  bool
	maxRoutes int
}

const DefaultMaxRoutes = 256

type MemoryOption func(*MemorySink)

func WithTrackIPs(track bool) MemoryOption {
	return func(s *MemorySink) { s.trackIPs = track }
}

// WithMaxRoutes limita as rotas distintas em ByRoute.
func WithMaxRoutes(n int) MemoryOption {
	return func(s *MemorySink) {
		if n > 0 {
			s.maxRoutes = n
		}
	}
}

func NewMemorySink(opts ...MemoryOption) *MemorySink {
	s := &MemorySink{
		byRoute:  make(map[string]Counters),
		byReason: make(map[string]int64),
		byIP:     make(map[string]Counters),

		maxRoutes: DefaultMaxRoutes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemorySink) Record(_ context.Context, ev Event) error {
	route := routeKey(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case KindFault:
		s.faults++
		return nil
	case KindCollaborator:
		s.byReason[string(ev.Kind)]++
		return nil
	}

	c, ok := s.byRoute[route]
	if !ok && len(s.byRoute) >= s.maxRoutes {
		route = normalizeMethod(ev.Method) + " " + OtherRoute
		c = s.byRoute[route]
	}
	var ipc Counters
	if s.trackIPs {
		ipc = s.byIP[ev.IP]
	}
	if ev.Allowed {
		s.total.Allowed++
		c.Allowed++
		ipc.Allowed++
	} else {
		s.total.Denied++
		c.Denied++
		ipc.Denied++
		s.byReason[ev.Reason]++
	}
	s.byRoute[route] = c
	if s.trackIPs {
		s.byIP[ev.IP] = ipc
	}
	return nil
}

func (s *MemorySink) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemorySink) Reason(reason string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byReason[reason]
}

func (s *MemorySink) Faults() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults
}

func (s *MemorySink) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		Total:    s.total,
		Faults:   s.faults,
		ByRoute:  make(map[string]Counters, len(s.byRoute)),
		ByReason: make(map[string]int64, len(s.byReason)),
	}
	for k, v := range s.byRoute {
		out.ByRoute[k] = v
	}
	for k, v := range s.byReason {
		out.ByReason[k] = v
	}
	if s.trackIPs {
		out.ByIP = make(map[string]Counters, len(s.byIP))
		for k, v := range s.byIP {
			out.ByIP[k] = v
		}
	}
	return out
}
