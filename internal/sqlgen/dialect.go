package sqlgen

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/mvsync/internal/data"
)

// Dialect renders the store-specific parts of a statement.
type Dialect interface {
	Name() string
	// Quote quotes an identifier.
	Quote(ident string) string
	// Literal renders a constant inline.
	Literal(v data.Value) (string, error)
	// Relation renders a SELECT expanding the list bound to param into rows
	// with the given fields.
	Relation(param string, fields []data.Column) string
	// ColumnType returns the column type used for target table DDL.
	ColumnType(t data.Type) (string, error)
	Limit(n int) string
}

// DialectByName returns the dialect registered under name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q (expected sqlite or postgres)", name)
	}
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func placeholder(param string) string { return "@" + param }

// SQLite expands list parameters with json_each.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string { return quoteIdent(ident) }

func (SQLite) Literal(v data.Value) (string, error) {
	switch val := v.(type) {
	case nil, data.Null:
		return "NULL", nil
	case data.Int:
		return strconv.FormatInt(int64(val), 10), nil
	case data.Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64), nil
	case data.String:
		return quoteString(string(val)), nil
	case data.Bool:
		if val {
			return "1", nil
		}
		return "0", nil
	case data.Bytes:
		return "X'" + hex.EncodeToString(val) + "'", nil
	case data.Timestamp:
		return quoteString(time.Time(val).UTC().Format(time.RFC3339Nano)), nil
	default:
		return "", fmt.Errorf("sqlite: unsupported literal %T", v)
	}
}

func (d SQLite) Relation(param string, fields []data.Column) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		path := quoteString(`$."` + strings.ReplaceAll(f.Name, `"`, `\"`) + `"`)
		expr := "json_extract(value, " + path + ")"
		if f.Type == data.TypeBytes {
			expr = "unhex(" + expr + ")"
		}
		cols[i] = expr + " AS " + d.Quote(f.Name)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM json_each(" + placeholder(param) + ")"
}

func (SQLite) ColumnType(t data.Type) (string, error) {
	switch t {
	case data.TypeInt, data.TypeBool:
		return "INTEGER", nil
	case data.TypeFloat:
		return "REAL", nil
	case data.TypeString, data.TypeTimestamp:
		return "TEXT", nil
	case data.TypeBytes:
		return "BLOB", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", t)
	}
}

func (SQLite) Limit(n int) string { return "LIMIT " + strconv.Itoa(n) }

// Postgres expands list parameters with jsonb_to_recordset. The parameter
// is bound as JSON text and cast in the statement.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string { return quoteIdent(ident) }

func (Postgres) Literal(v data.Value) (string, error) {
	switch val := v.(type) {
	case nil, data.Null:
		return "NULL", nil
	case data.Int:
		return strconv.FormatInt(int64(val), 10), nil
	case data.Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64) + "::double precision", nil
	case data.String:
		return quoteString(string(val)), nil
	case data.Bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case data.Bytes:
		return `'\x` + hex.EncodeToString(val) + "'::bytea", nil
	case data.Timestamp:
		return quoteString(time.Time(val).UTC().Format(time.RFC3339Nano)) + "::timestamptz", nil
	default:
		return "", fmt.Errorf("postgres: unsupported literal %T", v)
	}
}

func (d Postgres) Relation(param string, fields []data.Column) string {
	cols := make([]string, len(fields))
	decls := make([]string, len(fields))
	for i, f := range fields {
		name := d.Quote(f.Name)
		typ, err := d.ColumnType(f.Type)
		if err != nil {
			typ = "text"
		}
		if f.Type == data.TypeBytes {
			// Bytes travel as hex strings.
			decls[i] = name + " text"
			cols[i] = "decode(r." + name + ", 'hex') AS " + name
			continue
		}
		decls[i] = name + " " + typ
		cols[i] = "r." + name
	}
	return "SELECT " + strings.Join(cols, ", ") +
		" FROM jsonb_to_recordset(" + placeholder(param) + "::jsonb) AS r(" + strings.Join(decls, ", ") + ")"
}

func (Postgres) ColumnType(t data.Type) (string, error) {
	switch t {
	case data.TypeInt:
		return "bigint", nil
	case data.TypeFloat:
		return "double precision", nil
	case data.TypeString:
		return "text", nil
	case data.TypeBool:
		return "boolean", nil
	case data.TypeBytes:
		return "bytea", nil
	case data.TypeTimestamp:
		return "timestamptz", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", t)
	}
}

func (Postgres) Limit(n int) string { return "LIMIT " + strconv.Itoa(n) }
