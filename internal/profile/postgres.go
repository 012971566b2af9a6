// Package profile busca o tipo de conta do usuário no Postgres (pgx).
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"security-gateway/middleware/gateway"
)

// Querier é atendido por *pgxpool.Pool, *pgx.Conn e pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const defaultQuery = `SELECT account_type FROM profiles WHERE user_id = $1`

type PostgresStore struct {
	db    Querier
	query string
}

type Option func(*PostgresStore)

// WithQuery troca a consulta; ela recebe o userID em $1 e devolve uma coluna.
func WithQuery(q string) Option {
	return func(s *PostgresStore) { s.query = q }
}

func NewPostgresStore(db Querier, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, query: defaultQuery}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ gateway.ProfileStore = (*PostgresStore)(nil)

// GetAccountType devolve "" quando o usuário não tem perfil.
func (s *PostgresStore) GetAccountType(ctx context.Context, userID string) (string, error) {
	var accountType *string
	err := s.db.QueryRow(ctx, s.query, userID).Scan(&accountType)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("profile: account type for %q: %w", userID, err)
	}
	if accountType == nil {
		return "", nil
	}
	return *accountType, nil
}
