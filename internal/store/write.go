package store

import (
	"context"
	"fmt"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// Exec runs a generated write with its list parameter and returns the
// number of affected rows.
func (r *runner) Exec(ctx context.Context, st sqlgen.Statement, param data.StructList) (int64, error) {
	args, err := bindParam(st, param)
	if err != nil {
		return 0, err
	}
	n, err := r.c.exec(ctx, st.Text, args)
	if err != nil {
		return 0, fmt.Errorf("exec %s %s: %w", st.Kind, st.Target, err)
	}
	return n, nil
}

// WriteTarget applies the rows of w to its target table: upserts first,
// then deletes, each in statements of at most w.BatchSize rows. A Write
// without a target writes nothing.
func (r *runner) WriteTarget(ctx context.Context, w *apply.Write) error {
	if w == nil || w.Target == nil {
		return nil
	}
	size := max(w.BatchSize, 1)

	if w.Upserts.Len() > 0 {
		st, err := r.gen.Upsert(w.Target)
		if err != nil {
			return err
		}
		for from := 0; from < w.Upserts.Len(); from += size {
			chunk := w.Upserts.Slice(from, min(from+size, w.Upserts.Len()))
			if _, err := r.Exec(ctx, st, chunk); err != nil {
				return err
			}
		}
	}

	if len(w.Deletes) > 0 {
		st, err := r.gen.Delete(w.Target)
		if err != nil {
			return err
		}
		for from := 0; from < len(w.Deletes); from += size {
			param, err := data.KeysToParam(w.Deletes[from:min(from+size, len(w.Deletes))])
			if err == nil {
				param, err = data.ParamWithFields(param, st.ParamFields)
			}
			if err != nil {
				return fmt.Errorf("delete %s: %w", w.Target.Name, err)
			}
			if _, err := r.Exec(ctx, st, param); err != nil {
				return err
			}
		}
	}
	return nil
}

// AppendChange logs one source-row change and returns its seq.
func (r *runner) AppendChange(ctx context.Context, kind apply.ChangeKind, key data.Key) (int64, error) {
	if key.IsZero() {
		return 0, fmt.Errorf("append change: key is not initialised")
	}
	keyJSON, err := marshalKey(key)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	vals, found, err := r.queryRow(ctx, `
		INSERT INTO mv_changes (table_name, op, key_json)
		VALUES (@table, @op, @key)
		RETURNING seq
	`, map[string]any{"table": key.Info().Table, "op": string(kind), "key": keyJSON})
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("append change: no seq returned")
	}
	seq, err := data.FromDriver(vals[0], data.TypeInt)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return int64(seq.(data.Int)), nil
}

// SaveOffset records the last acknowledged change-log seq of a handler for
// a table.
func (r *runner) SaveOffset(ctx context.Context, handler, table string, seq int64) error {
	_, err := r.c.exec(ctx, `
		INSERT INTO mv_offsets (handler, table_name, seq)
		VALUES (@handler, @table, @seq)
		ON CONFLICT (handler, table_name) DO UPDATE SET seq = excluded.seq
	`, map[string]any{"handler": handler, "table": table, "seq": seq})
	return wrapErr("save offset", err)
}

// SaveScanPosition records the progress of a scan.
func (r *runner) SaveScanPosition(ctx context.Context, handler, target string, pos ScanPosition) error {
	var lastKey any
	if !pos.LastKey.IsZero() {
		s, err := marshalKey(pos.LastKey)
		if err != nil {
			return fmt.Errorf("save scan position: %w", err)
		}
		lastKey = s
	}
	_, err := r.c.exec(ctx, `
		INSERT INTO mv_scans (handler, target, run_id, last_key, completed)
		VALUES (@handler, @target, @run_id, @last_key, @completed)
		ON CONFLICT (handler, target) DO UPDATE SET
		  run_id = excluded.run_id, last_key = excluded.last_key, completed = excluded.completed
	`, map[string]any{
		"handler":   handler,
		"target":    target,
		"run_id":    pos.RunID,
		"last_key":  lastKey,
		"completed": pos.Completed,
	})
	return wrapErr("save scan position", err)
}

// CreateTables creates every source table and every valid target table of
// meta that does not exist yet.
func (r *runner) CreateTables(ctx context.Context, meta *model.Metadata) error {
	var stmts []sqlgen.Statement
	for _, t := range meta.Tables {
		st, err := r.gen.CreateTable(t.Name, t.Columns, t.Key)
		if err != nil {
			return err
		}
		stmts = append(stmts, st)
	}
	for _, h := range meta.Handlers {
		for _, t := range h.Targets {
			st, err := r.gen.CreateTarget(t)
			if err != nil {
				return err
			}
			stmts = append(stmts, st)
		}
	}
	for _, st := range stmts {
		if _, err := r.Exec(ctx, st, data.StructList{}); err != nil {
			return err
		}
	}
	return nil
}
