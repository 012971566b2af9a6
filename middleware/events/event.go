package events

import (
	"context"
	"time"
)

// Kind classifica um evento de segurança.
type Kind string

const (
	// KindDecision é uma requisição que passou pelas checagens.
	KindDecision Kind = "decision"
	// KindDenial é uma negação de política (rate limit, suspeito, CSRF, ...).
	KindDenial Kind = "denial"
	// KindCollaborator é uma falha de sessão/perfil externo.
	KindCollaborator Kind = "collaborator_failure"
	// KindFault é uma falha interna inesperada no gateway.
	KindFault Kind = "internal_fault"
)

// Event representa um evento de decisão do gateway.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Path é o valor bruto do cliente e só vai para log. Agregações usam Route,
// que o produtor deve manter com cardinalidade limitada.
type Event struct {
	Kind      Kind
	Allowed   bool
	Check     string
	Reason    string
	Key       string
	IP        string
	Method    string
	Path      string
	Route     string
	Status    int
	RequestID string

	At time.Time
}

// Sink é o destino de eventos de segurança (observabilidade/alerta).
//
// Implementações podem armazenar em Redis, Prometheus, memória, log, etc.
// O gateway trata erro como best-effort (não derruba request).
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Multi repassa cada evento para todos os sinks; retorna o primeiro erro.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OtherRoute agrupa rotas vazias ou acima do limite de distintas.
const OtherRoute = "other"

// routeKey monta "MÉTODO rota" com método restrito aos padrões HTTP.
func routeKey(ev Event) string {
	route := ev.Route
	if route == "" {
		route = OtherRoute
	}
	return normalizeMethod(ev.Method) + " " + route
}

func normalizeMethod(m string) string {
	switch m {
	case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "TRACE", "CONNECT":
		return m
	}
	return "OTHER"
}

// Discard ignora todos os eventos.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }
