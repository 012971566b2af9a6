package gateway

import (
	"context"
	"errors"
	"net/http"
)

// Session é a identidade autenticada da requisição.
type Session struct {
	UserID      string
	AccountType string
}

// SessionProvider resolve a sessão da requisição.
// (nil, nil) significa requisição sem sessão.
type SessionProvider interface {
	GetSession(ctx context.Context, r *http.Request) (*Session, error)
}

type SessionProviderFunc func(ctx context.Context, r *http.Request) (*Session, error)

func (f SessionProviderFunc) GetSession(ctx context.Context, r *http.Request) (*Session, error) {
	return f(ctx, r)
}

// ProfileStore devolve o tipo de conta de um usuário.
type ProfileStore interface {
	GetAccountType(ctx context.Context, userID string) (string, error)
}

type ProfileStoreFunc func(ctx context.Context, userID string) (string, error)

func (f ProfileStoreFunc) GetAccountType(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// ErrSessionInFlight indica que o token de sessão estava sendo atualizado
// durante a validação. É corrida de tempo, não violação: não vira alerta.
var ErrSessionInFlight = errors.New("gateway: session update in flight")
