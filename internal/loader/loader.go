// Package loader reads view definitions written in CUE into
// model.Definition values.
//
// A definition document declares source tables and handlers:
//
//	table: orders: {
//		key: ["id"]
//		columns: {id: "int", customer_id: "int", status: "text"}
//	}
//	handler: sales: target: order_view: {
//		key: ["id"]
//		sources: [
//			{table: "orders", alias: "o"},
//			{table: "customers", alias: "c", on: [{first: {ref: "c.id"}, second: {ref: "o.customer_id"}}]},
//		]
//		columns: [{from: "o.id"}, {name: "customer_name", from: "c.name"}]
//	}
//
// A condition side is {ref: "alias.column"} or {value: <literal>}; a ref
// without an alias refers to the source owning the condition. The loader
// only maps fields. Semantic checks (dangling references, cross joins,
// sides that are both or neither) are left to model.Build, which reports
// them as issues at the positions recorded here.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/mvsync/internal/model"
)

// Error codes.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No CUE files found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build failed
	ErrCodeInvalidField = "E101" // Field has the wrong shape
	ErrCodeMissingField = "E102" // Required field absent
)

// Error is a positioned failure to map a CUE value.
type Error struct {
	Code    string
	Field   string
	Message string
	Pos     model.Pos
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s: %s", e.Pos, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Code, e.Message)
}

// Errors returns the *Error values joined in err.
func Errors(err error) []*Error {
	var out []*Error
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			out = append(out, Errors(e)...)
		}
		return out
	}
	var le *Error
	if errors.As(err, &le) {
		out = append(out, le)
	}
	return out
}

func position(p token.Pos) model.Pos {
	if !p.IsValid() {
		return model.Pos{}
	}
	return model.Pos{File: p.Filename(), Line: p.Line(), Column: p.Column()}
}

// formatCUEError keeps the position of the first CUE error.
func formatCUEError(code string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &Error{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = position(positions[0])
	}
	return le
}

// LoadDir loads the CUE package in dir.
func LoadDir(dir string) (model.Definition, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return model.Definition{}, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}
	}
	if err != nil {
		return model.Definition{}, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions: %v", err)}
	}
	if !info.IsDir() {
		return LoadFile(dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return model.Definition{}, &Error{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return model.Definition{}, &Error{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return model.Definition{}, &Error{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	if inst := instances[0]; inst.Err != nil {
		return model.Definition{}, formatCUEError(ErrCodeLoadFailed, inst.Err)
	}

	v := cuecontext.New().BuildInstance(instances[0])
	return Decode(v)
}

// LoadFile loads a single CUE file.
func LoadFile(path string) (model.Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return model.Definition{}, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("read %s: %v", path, err)}
	}
	return LoadString(path, string(src))
}

// LoadString compiles src, reported as filename in positions.
func LoadString(filename, src string) (model.Definition, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return Decode(v)
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
