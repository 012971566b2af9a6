package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value *string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	p := dest[0].(**string)
	*p = r.value
	return nil
}

type fakeDB struct {
	rows  map[string]fakeRow
	sql   string
	calls int
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls++
	f.sql = sql
	row, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return row
}

func ptr(s string) *string { return &s }

func TestGetAccountType(t *testing.T) {
	down := errors.New("conn reset")
	db := &fakeDB{rows: map[string]fakeRow{
		"u1": {value: ptr("author")},
		"u2": {value: nil},
		"u3": {err: down},
	}}
	s := NewPostgresStore(db)
	ctx := context.Background()

	got, err := s.GetAccountType(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "author", got)
	assert.Equal(t, defaultQuery, db.sql)

	got, err = s.GetAccountType(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.GetAccountType(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetAccountType(ctx, "u3")
	assert.ErrorIs(t, err, down)
}

func TestWithQuery(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{"u1": {value: ptr("reader")}}}
	s := NewPostgresStore(db, WithQuery(`SELECT kind FROM users WHERE id = $1`))

	got, err := s.GetAccountType(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "reader", got)
	assert.Equal(t, `SELECT kind FROM users WHERE id = $1`, db.sql)
}
