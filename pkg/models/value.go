package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ValueKind is the fixed set of primitive kinds a query cell can hold.
type ValueKind string

const (
	KindInteger ValueKind = "integer"
	KindFloat   ValueKind = "float"
	KindText    ValueKind = "text"
	KindBoolean ValueKind = "boolean"
	KindDate    ValueKind = "date"
	KindNull    ValueKind = "null"
)

// Value is a tagged query cell. Only the field matching Kind is meaningful.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
	Bool  bool
	Time  time.Time
}

func NullValue() Value             { return Value{Kind: KindNull} }
func IntegerValue(v int64) Value   { return Value{Kind: KindInteger, Int: v} }
func FloatValue(v float64) Value   { return Value{Kind: KindFloat, Float: v} }
func TextValue(v string) Value     { return Value{Kind: KindText, Text: v} }
func BooleanValue(v bool) Value    { return Value{Kind: KindBoolean, Bool: v} }
func DateValue(v time.Time) Value  { return Value{Kind: KindDate, Time: v} }
func (v Value) IsNull() bool       { return v.Kind == KindNull || v.Kind == "" }
func (v Value) Equal(o Value) bool { return v.Kind == o.Kind && v.Interface() == o.Interface() }

// Interface returns the Go value for the active kind.
func (v Value) Interface() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	case KindBoolean:
		return v.Bool
	case KindDate:
		return v.Time.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

// MarshalJSON writes the plain JSON form of the cell.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// KindForDatabaseType maps a DuckDB (or attached engine) type name onto a
// value kind. Parameterized and nested types are reduced to their base
// name; anything unrecognized is text.
func KindForDatabaseType(dbType string) ValueKind {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if t == "" {
		return KindText
	}
	if strings.HasSuffix(t, "]") || strings.HasPrefix(t, "STRUCT") || strings.HasPrefix(t, "MAP") {
		return KindText
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT",
		"INT1", "INT2", "INT4", "INT8", "SERIAL", "BIGSERIAL", "MEDIUMINT":
		return KindInteger
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		return KindFloat
	case "BOOLEAN", "BOOL", "LOGICAL":
		return KindBoolean
	case "DATE", "TIME", "TIMESTAMP", "DATETIME", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE",
		"TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS", "TIME WITH TIME ZONE", "TIMETZ":
		return KindDate
	}
	return KindText
}
