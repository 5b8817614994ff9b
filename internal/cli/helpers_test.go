package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/sqlgen"
	"github.com/roach88/mvsync/internal/store"
	"github.com/roach88/mvsync/internal/testutil"
)

var salesDefs = filepath.Join("..", "..", "testdata", "views")

// execute runs cmd with args and returns stdout and stderr.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeDefs(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "views.cue"), []byte(src), 0o644))
	return dir
}

// seededStore creates the sales tables in a new SQLite file, seeds rows
// and returns its path.
func seededStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CreateTables(ctx, testutil.SalesMetadata(t)))
	for _, text := range []string{
		`INSERT INTO customers (id, name) VALUES (1, 'ann'), (2, 'bob')`,
		`INSERT INTO orders (id, customer_id, status, total) VALUES (10, 1, 'open', 5), (11, 1, 'closed', 6), (12, 2, 'open', 7)`,
	} {
		_, err := s.Exec(ctx, sqlgen.Statement{Text: text}, data.StructList{})
		require.NoError(t, err)
	}
	return path
}

func countRows(t *testing.T, s *store.Store, table string) int64 {
	t.Helper()
	st := sqlgen.Statement{
		Text:    "SELECT COUNT(*) FROM " + s.Dialect().Quote(table),
		Columns: []data.Column{{Name: "n", Type: data.TypeInt}},
	}
	rs, err := s.Query(context.Background(), st, data.StructList{})
	require.NoError(t, err)
	return int64(rs.Rows[0][0].(data.Int))
}
