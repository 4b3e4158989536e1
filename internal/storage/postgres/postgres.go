// Package postgres implements the lifecycle stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trigger-keeper/internal/storage"
)

// Pool is the shared pgx pool behind every store.
type Pool struct {
	*pgxpool.Pool
}

// NewPool parses dsn, connects and pings. maxConns of zero keeps the
// pgxpool default.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	inner, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	p := &Pool{Pool: inner}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}
	return p, nil
}

// InTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (p *Pool) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, p.Pool, fn)
}

const pgUniqueViolation = "23505"

// classify maps driver errors onto storage sentinels; other errors pass
// through wrapped with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return storage.ErrDuplicateKey
	}
	return fmt.Errorf("%s: %w", op, err)
}

// numeric renders an amount for a NUMERIC(78,0) column; nil is zero.
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseNumeric parses a NUMERIC column read back with ::text.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse numeric %q", s)
	}
	return v, nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
