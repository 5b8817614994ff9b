package loader

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
)

// Decode maps a built CUE value into a Definition. Every mapping failure
// is collected; the returned error joins them as *Error values.
func Decode(v cue.Value) (model.Definition, error) {
	if err := v.Err(); err != nil {
		return model.Definition{}, formatCUEError(ErrCodeBuildFailed, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return model.Definition{}, formatCUEError(ErrCodeBuildFailed, err)
	}

	d := &decoder{}
	var def model.Definition
	d.fields(v, "table", func(name string, tv cue.Value) {
		def.Tables = append(def.Tables, d.table(name, tv))
	})
	d.fields(v, "handler", func(name string, hv cue.Value) {
		def.Handlers = append(def.Handlers, d.handler(name, hv))
	})

	if len(def.Tables) == 0 && len(def.Handlers) == 0 && len(d.errs) == 0 {
		d.errs = append(d.errs, &Error{Code: ErrCodeGeneric, Message: "no tables or handlers found", Pos: position(v.Pos())})
	}
	return def, errors.Join(d.errs...)
}

type decoder struct {
	errs []error
}

func (d *decoder) fail(code string, v cue.Value, format string, args ...any) {
	d.errs = append(d.errs, &Error{
		Code:    code,
		Field:   v.Path().String(),
		Message: fmt.Sprintf(format, args...),
		Pos:     position(v.Pos()),
	})
}

// fields calls fn for each field of the struct at path, in declaration
// order. A missing path is not an error.
func (d *decoder) fields(v cue.Value, path string, fn func(label string, v cue.Value)) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return
	}
	iter, err := fv.Fields()
	if err != nil {
		d.fail(ErrCodeInvalidField, fv, "must be a struct")
		return
	}
	for iter.Next() {
		fn(iter.Label(), iter.Value())
	}
}

// list calls fn for each element of the list at path.
func (d *decoder) list(v cue.Value, path string, fn func(v cue.Value)) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return
	}
	iter, err := lv.List()
	if err != nil {
		d.fail(ErrCodeInvalidField, lv, "must be a list")
		return
	}
	for iter.Next() {
		fn(iter.Value())
	}
}

func (d *decoder) optString(v cue.Value, path string) string {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return ""
	}
	s, err := sv.String()
	if err != nil {
		d.fail(ErrCodeInvalidField, sv, "must be a string")
		return ""
	}
	return s
}

func (d *decoder) strings(v cue.Value, path string) []string {
	var out []string
	d.list(v, path, func(ev cue.Value) {
		s, err := ev.String()
		if err != nil {
			d.fail(ErrCodeInvalidField, ev, "must be a string")
			return
		}
		out = append(out, s)
	})
	return out
}

func (d *decoder) table(name string, v cue.Value) model.TableDef {
	td := model.TableDef{Name: name, Pos: position(v.Pos())}
	td.Key = d.strings(v, "key")
	d.fields(v, "columns", func(col string, cv cue.Value) {
		s, err := cv.String()
		if err != nil {
			d.fail(ErrCodeInvalidField, cv, "column type must be a string")
			return
		}
		typ, err := data.ParseType(s)
		if err != nil {
			d.fail(ErrCodeInvalidField, cv, "%v", err)
			return
		}
		td.Columns = append(td.Columns, data.Column{Name: col, Type: typ})
	})
	if len(td.Columns) == 0 {
		d.fail(ErrCodeMissingField, v, "table %s declares no columns", name)
	}
	return td
}

func (d *decoder) handler(name string, v cue.Value) model.HandlerDef {
	hd := model.HandlerDef{Name: name, Pos: position(v.Pos())}
	d.fields(v, "target", func(tn string, tv cue.Value) {
		hd.Targets = append(hd.Targets, d.target(tn, tv))
	})
	return hd
}

func (d *decoder) target(name string, v cue.Value) model.TargetDef {
	td := model.TargetDef{Name: name, Pos: position(v.Pos())}
	td.Key = d.strings(v, "key")
	d.list(v, "sources", func(sv cue.Value) {
		td.Sources = append(td.Sources, d.source(sv))
	})
	d.list(v, "columns", func(cv cue.Value) {
		td.Columns = append(td.Columns, d.column(cv))
	})
	return td
}

func (d *decoder) source(v cue.Value) model.SourceDef {
	sd := model.SourceDef{
		Table: d.optString(v, "table"),
		Alias: d.optString(v, "alias"),
		Mode:  model.JoinMode(d.optString(v, "join")),
		Pos:   position(v.Pos()),
	}
	d.list(v, "on", func(cv cue.Value) {
		sd.Conditions = append(sd.Conditions, model.ConditionDef{
			First:  d.side(cv.LookupPath(cue.ParsePath("first"))),
			Second: d.side(cv.LookupPath(cue.ParsePath("second"))),
			Pos:    position(cv.Pos()),
		})
	})
	return sd
}

// side maps one condition side. Both and neither are passed through for
// model.Build to report.
func (d *decoder) side(v cue.Value) model.SideDef {
	var sd model.SideDef
	if !v.Exists() {
		return sd
	}
	if ref := d.optString(v, "ref"); ref != "" {
		sd.Alias, sd.Column = splitRef(ref)
	}
	if lv := v.LookupPath(cue.ParsePath("value")); lv.Exists() {
		sd.Literal = d.literal(lv, d.optString(v, "type"))
	}
	return sd
}

func (d *decoder) column(v cue.Value) model.ColumnDef {
	cd := model.ColumnDef{Name: d.optString(v, "name"), Pos: position(v.Pos())}
	from := d.optString(v, "from")
	if from == "" {
		d.fail(ErrCodeMissingField, v, "column needs from: \"alias.column\"")
		return cd
	}
	cd.Alias, cd.Column = splitRef(from)
	return cd
}

// splitRef splits "alias.column"; a bare name is a column of the owning
// source.
func splitRef(ref string) (alias, column string) {
	if a, c, ok := strings.Cut(ref, "."); ok {
		return a, c
	}
	return "", ref
}

// literal maps a concrete CUE value. typ selects the string encodings of
// bytes (hex) and timestamps (RFC 3339).
func (d *decoder) literal(v cue.Value, typ string) data.Value {
	switch typ {
	case "":
	case string(data.TypeTimestamp):
		s, err := v.String()
		if err == nil {
			var ts time.Time
			if ts, err = time.Parse(time.RFC3339Nano, s); err == nil {
				return data.Timestamp(ts.UTC())
			}
		}
		d.fail(ErrCodeInvalidField, v, "timestamp literal must be an RFC 3339 string")
		return nil
	case string(data.TypeBytes):
		s, err := v.String()
		if err == nil {
			var b []byte
			if b, err = hex.DecodeString(s); err == nil {
				return data.Bytes(b)
			}
		}
		d.fail(ErrCodeInvalidField, v, "bytes literal must be a hex string")
		return nil
	default:
		d.fail(ErrCodeInvalidField, v, "unknown literal type %q", typ)
		return nil
	}

	switch v.Kind() {
	case cue.NullKind:
		return data.Null{}
	case cue.BoolKind:
		b, _ := v.Bool()
		return data.Bool(b)
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			d.fail(ErrCodeInvalidField, v, "integer literal out of range")
			return nil
		}
		return data.Int(n)
	case cue.FloatKind:
		f, _ := v.Float64()
		return data.Float(f)
	case cue.StringKind:
		s, _ := v.String()
		return data.String(s)
	case cue.BytesKind:
		b, _ := v.Bytes()
		return data.Bytes(b)
	default:
		d.fail(ErrCodeInvalidField, v, "unsupported literal kind %s", v.Kind())
		return nil
	}
}
