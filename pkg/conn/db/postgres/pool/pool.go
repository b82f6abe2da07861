package pool

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	xe "github.com/opst/importexec/pkg/errors"
)

// something sending query with SQL.
//
// this is extracted interface from `pgxpool.Pool` and `pgx.Tx`
type Queryer interface {
	// sending SQL Command which does not have any result rows.
	Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error)

	// sending SQL Command which has result rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)

	// sending SQL Command which has just single result row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Tx is a transaction. pgx.Tx implements this.
type Tx interface {
	Queryer

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool is the subset of `*pgxpool.Pool` which job stores use.
type Pool interface {
	Queryer

	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type pgxPool struct {
	*pgxpool.Pool
}

var _ Pool = pgxPool{}

func (p pgxPool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func Wrap(p *pgxpool.Pool) Pool {
	return pgxPool{p}
}

// InTx runs f in a transaction.
//
// The transaction is committed when f returns nil, and rolled back otherwise.
func InTx(ctx context.Context, p Pool, f func(Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	if err := f(tx); err != nil {
		return err
	}
	return xe.Wrap(tx.Commit(ctx))
}

type Option func(*pgxpool.Config) *pgxpool.Config

// WithMaxConns limits connections of the pool.
//
// Non-positive n leaves the default of pgxpool.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) *pgxpool.Config {
		if 0 < n {
			c.MaxConns = n
		}
		return c
	}
}

// Connect to the database at uri, and ping it.
func Connect(ctx context.Context, uri string, options ...Option) (Pool, error) {
	conf, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, err
	}
	for _, opt := range options {
		conf = opt(conf)
	}

	p, err := pgxpool.ConnectConfig(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return Wrap(p), nil
}
