package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

// Key é a chave de identidade de um contador (ex: IP|path|fingerprint do UA).
type Key string

// ErrUnknownKey é retornado quando a chave não possui entrada no store.
var ErrUnknownKey = errors.New("ratelimit: unknown key")

// Policy define o limite aplicado a um endpoint.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// Entry é o estado de uma chave dentro da janela atual.
//
// Invariantes: Count não diminui dentro de uma janela e
// LastRequestAt >= FirstRequestAt.
type Entry struct {
	Count          int
	FirstRequestAt time.Time
	LastRequestAt  time.Time
	Window         time.Duration
	Blocked        bool
	Suspicious     bool
}

// ResetAt é o instante em que a janela da entrada expira.
func (e Entry) ResetAt() time.Time { return e.FirstRequestAt.Add(e.Window) }

// CounterStore guarda contadores de janela fixa por chave.
//
// Cada chave tem a própria fase de janela (não há relógio global alinhado).
// A implementação em memória atende ao gateway; a interface existe para que um
// store compartilhado possa substituí-la sem mudar a política.
type CounterStore interface {
	// Check cria/reinicia/incrementa a entrada e diz se a requisição cabe no limite.
	// Ao negar, o contador não é incrementado.
	Check(ctx context.Context, key Key, limit int, window time.Duration) (Entry, bool, error)
	Increment(ctx context.Context, key Key) error
	Count(ctx context.Context, key Key) (int, error)
	TimeRemaining(ctx context.Context, key Key) (time.Duration, error)
	Reset(ctx context.Context, key Key) error
	MarkSuspicious(ctx context.Context, key Key) error
}

// Reason descreve o motivo de uma negação.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBlocked     Reason = "blocked"
	ReasonSuspicious  Reason = "suspicious activity"
	ReasonConcurrency Reason = "too many concurrent requests"
	ReasonRateLimited Reason = "rate limit exceeded"
)

type Decision struct {
	Allowed bool
	Reason  Reason

	// Bypass indica que a decisão veio da allow-list (sem contadores).
	Bypass bool

	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	// Release libera a vaga de concorrência adquirida na decisão.
	// Sempre não-nil; chamadas repetidas são ignoradas.
	Release func()
}
