package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/mvsync/internal/sqlgen"
)

//go:embed schema_postgres.sql
var postgresSchema string

// OpenPostgres connects a pool to dsn and applies the system schema.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c := pgConn{q: pool}
	if err := applySchema(ctx, c, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{
		runner: runner{c: c, gen: sqlgen.New(sqlgen.Postgres{})},
		begin: func(ctx context.Context) (txConn, error) {
			tx, err := pool.Begin(ctx)
			if err != nil {
				return nil, err
			}
			return pgTx{pgConn: pgConn{q: tx}, tx: tx}, nil
		},
		close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

// pgQueryer is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgConn struct {
	q pgQueryer
}

func pgArgs(args map[string]any) []any {
	if len(args) == 0 {
		return nil
	}
	return []any{pgx.NamedArgs(args)}
}

func (c pgConn) query(ctx context.Context, text string, args map[string]any) (rows, error) {
	return c.q.Query(ctx, text, pgArgs(args)...)
}

func (c pgConn) exec(ctx context.Context, text string, args map[string]any) (int64, error) {
	tag, err := c.q.Exec(ctx, text, pgArgs(args)...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type pgTx struct {
	pgConn
	tx pgx.Tx
}

func (t pgTx) commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
