package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Process exit codes of mvsync.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // definitions with issues, a failed scan or handler
	ExitCommandError = 2 // bad flags, unreadable definitions or config, store unreachable
)

// ExitError carries the exit code a command failure maps to.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError fails a command with code.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError fails a command with code, keeping err as the cause.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCodeOf maps a command error to the process exit code. Errors that
// carry no ExitError exit with ExitFailure.
func ExitCodeOf(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// Printer writes command results. In json format every result is one
// Envelope on Out; text goes to Out as is. Diag receives issue listings
// and verbose progress so json on Out stays machine-readable.
type Printer struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer
	Verbose bool
}

func newPrinter(opts *RootOptions, out, diag io.Writer) *Printer {
	return &Printer{Format: opts.Format, Out: out, Diag: diag, Verbose: opts.Verbose}
}

func (p *Printer) json() bool { return p.Format == "json" }

// Envelope is the json document printed by validate, sql and scan.
type Envelope struct {
	Status string `json:"status"` // ok or error
	Data   any    `json:"data,omitempty"`
	Error  *Fault `json:"error,omitempty"`
}

// Fault describes a failed command in an Envelope. Code is an issue code
// such as E301 or a command error code.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success prints a command result: a status ok envelope in json format,
// the value's default formatting otherwise.
func (p *Printer) Success(data any) error {
	if p.json() {
		return json.NewEncoder(p.Out).Encode(Envelope{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(p.Out, data)
	return err
}

// Error prints a command failure. Text output shows details only when
// verbose.
func (p *Printer) Error(code, message string, details any) error {
	if p.json() {
		return json.NewEncoder(p.Out).Encode(Envelope{
			Status: "error",
			Error:  &Fault{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(p.Out, "mvsync: %s: %s\n", code, message); err != nil {
		return err
	}
	if p.Verbose && details != nil {
		_, err := fmt.Fprintf(p.Out, "  details: %v\n", details)
		return err
	}
	return nil
}

// Debugf prints progress to the diagnostic writer when verbose.
func (p *Printer) Debugf(format string, args ...any) {
	if p.Verbose {
		fmt.Fprintf(p.DiagWriter(), format+"\n", args...)
	}
}

// DiagWriter is Diag, or Out when no diagnostic writer is set.
func (p *Printer) DiagWriter() io.Writer {
	if p.Diag == nil {
		return p.Out
	}
	return p.Diag
}

// NewLogger returns the process logger: text or JSON records on w, at
// Debug level when verbose.
func NewLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
