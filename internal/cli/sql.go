package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/service"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Dialect string
}

// SQLStatement is one generated statement in JSON output.
type SQLStatement struct {
	Handler string `json:"handler"`
	Target  string `json:"target"`
	Kind    string `json:"kind"`
	Source  string `json:"source,omitempty"`
	Text    string `json:"text"`
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <definitions>",
		Short: "Print the statements generated for every target",
		Long: `Print the DDL, batched reads, upserts and deletes generated for each valid
target. Issues go to stderr; excluded targets are skipped.

Example:
  mvsync sql ./views --dialect postgres`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "sqlite", "SQL dialect (sqlite|postgres)")
	return cmd
}

func runSQL(opts *SQLOptions, path string, cmd *cobra.Command) error {
	printer := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	dialect, err := sqlgen.DialectByName(opts.Dialect)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid dialect", err)
	}
	meta, err := buildMetadata(path)
	if err != nil {
		return err
	}
	if err := service.PrintIssues(printer.DiagWriter(), meta); err != nil {
		return err
	}
	gen := sqlgen.New(dialect)

	if printer.json() {
		stmts, err := collectStatements(meta, gen)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to generate SQL", err)
		}
		if err := printer.Success(stmts); err != nil {
			return err
		}
	} else if err := service.PrintSQL(printer.Out, meta, gen); err != nil {
		return WrapExitError(ExitFailure, "failed to generate SQL", err)
	}

	if model.HasErrors(meta.Issues) {
		return NewExitError(ExitFailure, fmt.Sprintf("%d target(s) excluded", len(meta.Excluded)))
	}
	return nil
}

func collectStatements(meta *model.Metadata, gen *sqlgen.Generator) ([]SQLStatement, error) {
	var out []SQLStatement
	for _, h := range meta.Handlers {
		for _, t := range h.Targets {
			ddl, err := gen.CreateTarget(t)
			if err != nil {
				return nil, err
			}
			stmts, err := gen.Statements(t)
			if err != nil {
				return nil, err
			}
			for _, st := range append([]sqlgen.Statement{ddl}, stmts...) {
				out = append(out, SQLStatement{
					Handler: h.Name,
					Target:  t.Name,
					Kind:    string(st.Kind),
					Source:  st.Source,
					Text:    st.Text,
				})
			}
		}
	}
	return out, nil
}
