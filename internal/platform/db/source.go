package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the statement surface shared by pgx connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Tx is an open transaction. pgx.Tx satisfies it.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a connection held exclusively by one request until Release.
type Conn interface {
	Begin(ctx context.Context) (Tx, error)
	Release()
}

// ConnSource hands out exclusive connections.
type ConnSource interface {
	Acquire(ctx context.Context) (Conn, error)
}

// PoolSource is the production ConnSource backed by a pgx pool.
type PoolSource struct {
	pool *pgxpool.Pool
}

func NewPoolSource(pool *pgxpool.Pool) *PoolSource {
	return &PoolSource{pool: pool}
}

func (s *PoolSource) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &poolConn{conn: c}, nil
}

type poolConn struct {
	conn *pgxpool.Conn
}

// Begin opens the transaction that replaces autocommit for the lifetime of
// the request.
func (c *poolConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Release returns the connection to the pool. pgxpool destroys connections
// that are still inside a transaction or were closed by the server.
func (c *poolConn) Release() {
	c.conn.Release()
}
