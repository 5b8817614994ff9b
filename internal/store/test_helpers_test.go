package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/testutil"
)

// createTestStore creates a new SQLite store holding the sales tables.
func createTestStore(t *testing.T) (*Store, *model.Metadata) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	meta := testutil.SalesMetadata(t)
	if err := s.CreateTables(context.Background(), meta); err != nil {
		t.Fatalf("CreateTables() failed: %v", err)
	}
	return s, meta
}

// mustExec runs raw SQL with named arguments.
func mustExec(t *testing.T, s *Store, text string, args map[string]any) {
	t.Helper()
	if _, err := s.c.exec(context.Background(), text, args); err != nil {
		t.Fatalf("exec %q: %v", text, err)
	}
}

// scalar returns the first column of the first row of a raw query.
func scalar(t *testing.T, s *Store, text string, args map[string]any) any {
	t.Helper()
	vals, found, err := s.queryRow(context.Background(), text, args)
	if err != nil {
		t.Fatalf("query %q: %v", text, err)
	}
	if !found {
		t.Fatalf("query %q: no rows", text)
	}
	return vals[0]
}

// verifyPragma checks that a pragma is set to the expected value.
func verifyPragma(t *testing.T, s *Store, name string, expected int64) {
	t.Helper()
	var got int64
	switch v := scalar(t, s, "PRAGMA "+name, nil).(type) {
	case int64:
		got = v
	default:
		t.Fatalf("PRAGMA %s returned %T", name, v)
	}
	if got != expected {
		t.Errorf("%s = %d, expected %d", name, got, expected)
	}
}

func seedSales(t *testing.T, s *Store) {
	t.Helper()
	mustExec(t, s, `INSERT INTO customers (id, name) VALUES (1, 'ann'), (2, 'bob')`, nil)
	mustExec(t, s, `INSERT INTO orders (id, customer_id, status, total) VALUES
		(10, 1, 'open', 12.5), (11, 1, 'closed', 3), (12, 2, 'open', 7), (13, 9, 'open', 1)`, nil)
	mustExec(t, s, `INSERT INTO order_lines (order_id, line_no, sku, qty) VALUES
		(10, 1, 'A', 2), (10, 2, 'B', 1), (99, 1, 'C', 4)`, nil)
}
