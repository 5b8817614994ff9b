package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/mvsync/internal/sqlgen"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and the system schema automatically.
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	c := sqliteConn{q: db}
	if err := applySchema(context.Background(), c, sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		runner: runner{c: c, gen: sqlgen.New(sqlgen.SQLite{})},
		begin: func(ctx context.Context) (txConn, error) {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return nil, err
			}
			return sqliteTx{sqliteConn: sqliteConn{q: tx}, tx: tx}, nil
		},
		close: db.Close,
	}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// sqlQueryer is satisfied by *sql.DB and *sql.Tx.
type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqliteConn struct {
	q sqlQueryer
}

func namedArgs(args map[string]any) []any {
	out := make([]any, 0, len(args))
	for name, v := range args {
		out = append(out, sql.Named(name, v))
	}
	return out
}

func (c sqliteConn) query(ctx context.Context, text string, args map[string]any) (rows, error) {
	r, err := c.q.QueryContext(ctx, text, namedArgs(args)...)
	if err != nil {
		return nil, err
	}
	cols, err := r.Columns()
	if err != nil {
		r.Close()
		return nil, err
	}
	return &sqlRows{rows: r, width: len(cols)}, nil
}

func (c sqliteConn) exec(ctx context.Context, text string, args map[string]any) (int64, error) {
	res, err := c.q.ExecContext(ctx, text, namedArgs(args)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type sqliteTx struct {
	sqliteConn
	tx *sql.Tx
}

func (t sqliteTx) commit(context.Context) error   { return t.tx.Commit() }
func (t sqliteTx) rollback(context.Context) error { return t.tx.Rollback() }

// sqlRows adapts *sql.Rows to the pgx-style Values cursor.
type sqlRows struct {
	rows  *sql.Rows
	width int
	err   error
}

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, r.width)
	ptrs := make([]any, r.width)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func (r *sqlRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Err()
}

func (r *sqlRows) Close() {
	if err := r.rows.Close(); err != nil && r.err == nil {
		r.err = err
	}
}
