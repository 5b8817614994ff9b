package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mvsync/internal/loader"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/service"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Handlers int           `json:"handlers"`
	Targets  int           `json:"targets"`
	Issues   []model.Issue `json:"issues,omitempty"`
	Excluded []string      `json:"excluded,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definitions>",
		Short: "Validate view definitions",
		Long: `Load CUE view definitions and build the join model without touching a store.

Reports every issue with its source position. Targets with errors would be
excluded at run time; warnings do not fail validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	printer := newPrinter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	def, err := loader.LoadDir(path)
	if err != nil {
		errs := loader.Errors(err)
		if len(errs) == 0 {
			return outputValidateError(printer, loader.ErrCodeGeneric, err.Error())
		}
		if !isMappingError(errs[0]) {
			return outputValidateError(printer, errs[0].Code, errs[0].Message)
		}
		return outputValidationFailed(printer, ValidationResult{Issues: loadIssues(errs)}, nil)
	}

	meta := model.Build(def)
	res := ValidationResult{Handlers: len(meta.Handlers), Issues: meta.Issues}
	for _, h := range meta.Handlers {
		printer.Debugf("handler %s: %d target(s)", h.Name, len(h.Targets))
		res.Targets += len(h.Targets)
	}
	for _, ex := range meta.Excluded {
		res.Excluded = append(res.Excluded, ex.Handler+"/"+ex.Name)
	}

	if model.HasErrors(meta.Issues) {
		return outputValidationFailed(printer, res, meta)
	}
	res.Valid = true
	return outputValidateSuccess(printer, res, meta)
}

func isMappingError(e *loader.Error) bool {
	return e.Code == loader.ErrCodeInvalidField || e.Code == loader.ErrCodeMissingField
}

// loadIssues reports loader mapping errors the way build issues are
// reported.
func loadIssues(errs []*loader.Error) []model.Issue {
	issues := make([]model.Issue, len(errs))
	for i, e := range errs {
		msg := e.Message
		if e.Field != "" {
			msg = e.Field + ": " + msg
		}
		issues[i] = model.Issue{Code: e.Code, Severity: model.SeverityError, Message: msg, Pos: e.Pos}
	}
	return issues
}

func outputValidateSuccess(printer *Printer, res ValidationResult, meta *model.Metadata) error {
	if printer.json() {
		return printer.Success(res)
	}

	fmt.Fprintf(printer.Out, "✓ All definitions valid (%d handler(s), %d target(s))\n", res.Handlers, res.Targets)
	if len(res.Issues) > 0 {
		fmt.Fprintln(printer.Out)
		return service.PrintIssues(printer.Out, meta)
	}
	return nil
}

// outputValidateError reports a command-level failure (exit code 2).
func outputValidateError(printer *Printer, code, message string) error {
	_ = printer.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationFailed reports issues (exit code 1). meta is nil when the
// definitions could not be mapped at all.
func outputValidationFailed(printer *Printer, res ValidationResult, meta *model.Metadata) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(res.Issues)))

	if printer.json() {
		encoder := json.NewEncoder(printer.Out)
		encoder.SetIndent("", "  ")
		first := res.Issues[0]
		if err := encoder.Encode(Envelope{
			Status: "error",
			Data:   res,
			Error:  &Fault{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(printer.Out, "✗ Validation failed")
	fmt.Fprintln(printer.Out)
	if meta != nil {
		if err := service.PrintIssues(printer.Out, meta); err != nil {
			return err
		}
		return failed
	}
	for _, is := range res.Issues {
		fmt.Fprintln(printer.Out, is.String())
	}
	return failed
}
