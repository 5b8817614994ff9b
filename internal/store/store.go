package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// conn runs text with named arguments. It is implemented over a pool or a
// transaction of either driver.
type conn interface {
	query(ctx context.Context, text string, args map[string]any) (rows, error)
	exec(ctx context.Context, text string, args map[string]any) (int64, error)
}

// rows is the common cursor shape of database/sql and pgx.
type rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

type txConn interface {
	conn
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

// runner carries the operations shared by Store and Tx.
type runner struct {
	c   conn
	gen *sqlgen.Generator
}

// Generator returns the statement generator for the store's dialect.
func (r *runner) Generator() *sqlgen.Generator { return r.gen }

// Dialect returns the store's SQL dialect.
func (r *runner) Dialect() sqlgen.Dialect { return r.gen.Dialect() }

// Store is a SQLite or PostgreSQL database holding source tables, target
// tables and the system tables. It is safe for concurrent use.
type Store struct {
	runner
	begin func(ctx context.Context) (txConn, error)
	close func() error
}

// Tx is a store transaction. It has the same operations as Store.
type Tx struct {
	runner
}

// Open opens the store named by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	d, err := sqlgen.DialectByName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	switch d.(type) {
	case sqlgen.Postgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return OpenSQLite(cfg.DSN)
	}
}

// InTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	c, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{runner: runner{c: c, gen: s.gen}}); err != nil {
		if rbErr := c.rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := c.commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// applySchema executes a schema script statement by statement. It is
// idempotent.
func applySchema(ctx context.Context, c conn, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := c.exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return nil
}
