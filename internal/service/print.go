package service

import (
	"fmt"
	"io"

	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// PrintIssues writes one line per issue, then one line per excluded
// target. It writes nothing when the metadata is clean.
func PrintIssues(w io.Writer, meta *model.Metadata) error {
	for _, is := range meta.Issues {
		if _, err := fmt.Fprintln(w, is.String()); err != nil {
			return err
		}
	}
	for _, ex := range meta.Excluded {
		if _, err := fmt.Fprintf(w, "%s: excluded target %s/%s\n", ex.Pos, ex.Handler, ex.Name); err != nil {
			return err
		}
	}
	return nil
}

// PrintSQL writes the DDL and every generated statement of each valid
// target, grouped by handler.
func PrintSQL(w io.Writer, meta *model.Metadata, gen *sqlgen.Generator) error {
	for _, h := range meta.Handlers {
		if _, err := fmt.Fprintf(w, "-- handler %s (%s)\n\n", h.Name, gen.Dialect().Name()); err != nil {
			return err
		}
		for _, t := range h.Targets {
			ddl, err := gen.CreateTarget(t)
			if err != nil {
				return fmt.Errorf("target %s/%s: %w", h.Name, t.Name, err)
			}
			stmts, err := gen.Statements(t)
			if err != nil {
				return fmt.Errorf("target %s/%s: %w", h.Name, t.Name, err)
			}
			if err := sqlgen.WriteStatements(w, append([]sqlgen.Statement{ddl}, stmts...)); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintIssues writes the issues of the service metadata.
func (s *Service) PrintIssues(w io.Writer) error { return PrintIssues(w, s.meta) }

// PrintSQL writes the statements the service runs against its store.
func (s *Service) PrintSQL(w io.Writer) error {
	return PrintSQL(w, s.meta, s.store.Generator())
}
