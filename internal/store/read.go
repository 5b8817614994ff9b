package store

import (
	"context"
	"fmt"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// Query runs a generated statement with its list parameter and returns
// the typed result. Statements returning no rows yield an empty result.
// Column values are converted to the types st.Columns declares.
func (r *runner) Query(ctx context.Context, st sqlgen.Statement, param data.StructList) (*data.ResultSet, error) {
	args, err := bindParam(st, param)
	if err != nil {
		return nil, err
	}
	cur, err := r.c.query(ctx, st.Text, args)
	if err != nil {
		return nil, fmt.Errorf("query %s %s: %w", st.Kind, st.Target, err)
	}
	defer cur.Close()

	rs := &data.ResultSet{Columns: st.Columns}
	for cur.Next() {
		vals, err := cur.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s %s: %w", st.Kind, st.Target, err)
		}
		if len(vals) != len(st.Columns) {
			return nil, fmt.Errorf("scan %s %s: expected %d columns, got %d", st.Kind, st.Target, len(st.Columns), len(vals))
		}
		row := make([]data.Value, len(vals))
		for i, v := range vals {
			if row[i], err = data.FromDriver(v, st.Columns[i].Type); err != nil {
				return nil, fmt.Errorf("scan %s %s: column %s: %w", st.Kind, st.Target, st.Columns[i].Name, err)
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("query %s %s: %w", st.Kind, st.Target, err)
	}
	return rs, nil
}

// ReadChanges returns up to limit changes of info.Table logged after seq,
// in seq order.
func (r *runner) ReadChanges(ctx context.Context, info *data.KeyInfo, after int64, limit int) ([]apply.Change, error) {
	cur, err := r.c.query(ctx, `
		SELECT seq, op, key_json FROM mv_changes
		WHERE table_name = @table AND seq > @after
		ORDER BY seq ASC
		LIMIT @limit
	`, map[string]any{"table": info.Table, "after": after, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer cur.Close()

	var out []apply.Change
	for cur.Next() {
		vals, err := cur.Values()
		if err != nil {
			return nil, fmt.Errorf("read changes: %w", err)
		}
		seq, err := data.FromDriver(vals[0], data.TypeInt)
		if err != nil {
			return nil, fmt.Errorf("read changes: seq: %w", err)
		}
		op, err := data.FromDriver(vals[1], data.TypeString)
		if err != nil {
			return nil, fmt.Errorf("read changes: op: %w", err)
		}
		key, err := unmarshalKey(info, vals[2])
		if err != nil {
			return nil, fmt.Errorf("read changes: seq %d: %w", seq, err)
		}
		kind := apply.ChangeKind(op.(data.String))
		if kind != apply.ChangeUpsert && kind != apply.ChangeDelete {
			return nil, fmt.Errorf("read changes: seq %d: unknown op %q", seq, kind)
		}
		out = append(out, apply.Change{Table: info.Table, Kind: kind, Key: key, Seq: int64(seq.(data.Int))})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	return out, nil
}

// LoadOffset returns the last acknowledged change-log seq of a handler for
// a table, 0 when none was saved.
func (r *runner) LoadOffset(ctx context.Context, handler, table string) (int64, error) {
	vals, found, err := r.queryRow(ctx, `
		SELECT seq FROM mv_offsets WHERE handler = @handler AND table_name = @table
	`, map[string]any{"handler": handler, "table": table})
	if err != nil || !found {
		return 0, wrapErr("load offset", err)
	}
	seq, err := data.FromDriver(vals[0], data.TypeInt)
	if err != nil {
		return 0, fmt.Errorf("load offset: %w", err)
	}
	return int64(seq.(data.Int)), nil
}

// ScanPosition is the persisted progress of one scan.
type ScanPosition struct {
	RunID string
	// LastKey is the last main-table key acknowledged, zero before the
	// first page completes.
	LastKey   data.Key
	Completed bool
}

// LoadScanPosition returns the saved position of a scan. found is false
// when the target was never scanned.
func (r *runner) LoadScanPosition(ctx context.Context, handler, target string, info *data.KeyInfo) (pos ScanPosition, found bool, err error) {
	vals, found, err := r.queryRow(ctx, `
		SELECT run_id, last_key, completed FROM mv_scans WHERE handler = @handler AND target = @target
	`, map[string]any{"handler": handler, "target": target})
	if err != nil || !found {
		return ScanPosition{}, false, wrapErr("load scan position", err)
	}
	runID, err := data.FromDriver(vals[0], data.TypeString)
	if err != nil {
		return ScanPosition{}, false, fmt.Errorf("load scan position: %w", err)
	}
	completed, err := data.FromDriver(vals[2], data.TypeBool)
	if err != nil {
		return ScanPosition{}, false, fmt.Errorf("load scan position: %w", err)
	}
	pos = ScanPosition{RunID: string(runID.(data.String)), Completed: bool(completed.(data.Bool))}
	if pos.LastKey, err = unmarshalKey(info, vals[1]); err != nil {
		return ScanPosition{}, false, fmt.Errorf("load scan position: %w", err)
	}
	return pos, true, nil
}

// queryRow returns the first row of a system-table query.
func (r *runner) queryRow(ctx context.Context, text string, args map[string]any) ([]any, bool, error) {
	cur, err := r.c.query(ctx, text, args)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close()
	if !cur.Next() {
		return nil, false, cur.Err()
	}
	vals, err := cur.Values()
	if err != nil {
		return nil, false, err
	}
	return vals, true, nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
