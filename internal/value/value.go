package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danmuck/stackwire/internal/protocol"
)

// Value is one stack value: a scalar, text, an array of scalars, a table, or a single
// table field.
// The zero Value is an undefined null.
type Value struct {
	typ   Type
	null  bool
	b     bool
	i     int64
	u     uint64
	f     float64
	s     string
	t     Time
	elems []Value
	table *Table
}

// Table is a rectangular value: named typed fields and one cell per field per row.
type Table struct {
	Fields []Field
	Rows   [][]Value
}

// Null is the null value of type t.
func Null(t Type) Value { return Value{typ: t, null: true} }

func Bool(b bool) Value        { return Value{typ: TypeBool, b: b} }
func Char(r rune) Value        { return Value{typ: TypeChar, s: string(r)} }
func Real(f float64) Value     { return Value{typ: TypeReal, f: f} }
func RichReal(f float64) Value { return Value{typ: TypeRichReal, f: f} }
func Text(s string) Value      { return Value{typ: TypeText, s: s} }
func Int64(v int64) Value      { return Value{typ: TypeInt64, i: v} }
func Uint64(v uint64) Value    { return Value{typ: TypeUint64, u: v} }

var (
	signedBounds = map[Type][2]int64{
		TypeInt8:  {math.MinInt8, math.MaxInt8},
		TypeInt16: {math.MinInt16, math.MaxInt16},
		TypeInt32: {math.MinInt32, math.MaxInt32},
		TypeInt64: {math.MinInt64, math.MaxInt64},
	}
	unsignedBounds = map[Type]uint64{
		TypeUint8:  math.MaxUint8,
		TypeUint16: math.MaxUint16,
		TypeUint32: math.MaxUint32,
		TypeUint64: math.MaxUint64,
	}
)

// Int builds a signed integer of type t, checking that v fits.
func Int(t Type, v int64) (Value, error) {
	bounds, ok := signedBounds[t]
	if !ok {
		return Value{}, protocol.Errorf(protocol.CodeTypeMismatch, "%s is not a signed integer type", t)
	}
	if v < bounds[0] || v > bounds[1] {
		return Value{}, protocol.Errorf(protocol.CodeInvalidArgs, "%d overflows %s", v, t)
	}
	return Value{typ: t, i: v}, nil
}

// Uint builds an unsigned integer of type t, checking that v fits.
func Uint(t Type, v uint64) (Value, error) {
	limit, ok := unsignedBounds[t]
	if !ok {
		return Value{}, protocol.Errorf(protocol.CodeTypeMismatch, "%s is not an unsigned integer type", t)
	}
	if v > limit {
		return Value{}, protocol.Errorf(protocol.CodeInvalidArgs, "%d overflows %s", v, t)
	}
	return Value{typ: t, u: v}, nil
}

// TimeOf builds a date, datetime or hires time value after validating t.
func TimeOf(t Time) (Value, error) {
	if err := t.Validate(); err != nil {
		return Value{}, err
	}
	return Value{typ: t.Type(), t: t}, nil
}

// Array builds an array of elem. Elements must be of type elem or null.
func Array(elem Type, elems ...Value) (Value, error) {
	if !elem.Valid() || elem.IsArray() || elem.IsField() || elem.IsTable() {
		return Value{}, protocol.Errorf(protocol.CodeInvalidArgs, "arrays cannot hold %s", elem)
	}
	for i, e := range elems {
		if e.typ != elem {
			return Value{}, protocol.Errorf(protocol.CodeTypeMismatch, "element %d is %s, array holds %s", i, e.typ, elem)
		}
	}
	return Value{typ: elem.ArrayOf(), elems: append([]Value(nil), elems...)}, nil
}

// Column builds a table field value: one cell of type cell per row.
func Column(cell Type, cells ...Value) (Value, error) {
	if !cell.ValidCell() {
		return Value{}, protocol.Errorf(protocol.CodeInvalidArgs, "fields cannot hold %s", cell)
	}
	for i, c := range cells {
		if c.typ != cell {
			return Value{}, protocol.Errorf(protocol.CodeTypeMismatch, "row %d is %s, field holds %s", i, c.typ, cell)
		}
	}
	return Value{typ: cell | FlagField, elems: append([]Value(nil), cells...)}, nil
}

// TableOf builds a table value after checking that every row matches the fields.
func TableOf(tbl *Table) (Value, error) {
	if tbl == nil || len(tbl.Fields) == 0 {
		return Value{}, protocol.Errorf(protocol.CodeInvalidArgs, "table needs at least one field")
	}
	seen := make(map[string]struct{}, len(tbl.Fields))
	for _, f := range tbl.Fields {
		if f.Name == "" || strings.IndexByte(f.Name, 0) >= 0 {
			return Value{}, protocol.Errorf(protocol.CodeInvalidField, "bad field name %q", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return Value{}, protocol.Errorf(protocol.CodeInvalidField, "duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Type.ValidCell() {
			return Value{}, protocol.Errorf(protocol.CodeInvalidField, "field %q has type %s", f.Name, f.Type)
		}
	}
	for r, row := range tbl.Rows {
		if len(row) != len(tbl.Fields) {
			return Value{}, protocol.Errorf(protocol.CodeInvalidRow, "row %d has %d cells, want %d", r, len(row), len(tbl.Fields))
		}
		for c, cell := range row {
			if cell.typ != tbl.Fields[c].Type {
				return Value{}, protocol.Errorf(protocol.CodeTypeMismatch, "row %d field %q is %s, want %s", r, tbl.Fields[c].Name, cell.typ, tbl.Fields[c].Type)
			}
		}
	}
	return Value{typ: TypeTable, table: tbl}, nil
}

func (v Value) Type() Type   { return v.typ }
func (v Value) IsNull() bool { return v.null }

// Elems holds array elements, or the cells of a field value in row order.
func (v Value) Elems() []Value { return v.elems }

func (v Value) Table() *Table { return v.table }

func (v Value) mismatch(want string) error {
	return protocol.Errorf(protocol.CodeTypeMismatch, "%s value read as %s", v.typ, want)
}

func (v Value) AsBool() (bool, error) {
	if v.typ != TypeBool || v.null {
		return false, v.mismatch("bool")
	}
	return v.b, nil
}

// AsInt reads any integer type whose value fits an int64.
func (v Value) AsInt() (int64, error) {
	switch {
	case v.null:
	case v.typ.IsSigned():
		return v.i, nil
	case v.typ.IsUnsigned() && v.u <= math.MaxInt64:
		return int64(v.u), nil
	}
	return 0, v.mismatch("int64")
}

// AsUint reads any non-negative integer.
func (v Value) AsUint() (uint64, error) {
	switch {
	case v.null:
	case v.typ.IsUnsigned():
		return v.u, nil
	case v.typ.IsSigned() && v.i >= 0:
		return uint64(v.i), nil
	}
	return 0, v.mismatch("uint64")
}

func (v Value) AsReal() (float64, error) {
	if !v.typ.IsReal() || v.null {
		return 0, v.mismatch("real")
	}
	return v.f, nil
}

func (v Value) AsTime() (Time, error) {
	if !v.typ.IsTime() || v.null {
		return Time{}, v.mismatch("time")
	}
	return v.t, nil
}

// AsText reads text and char values.
func (v Value) AsText() (string, error) {
	if (v.typ != TypeText && v.typ != TypeChar) || v.null {
		return "", v.mismatch("text")
	}
	return v.s, nil
}

// Equal reports whether v and o have the same type and content.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.null != o.null {
		return false
	}
	if v.null {
		return true
	}
	switch {
	case v.typ.IsArray(), v.typ.IsField():
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	case v.typ == TypeTable:
		return v.table.Equal(o.table)
	case v.typ == TypeText || v.typ == TypeChar:
		return v.s == o.s
	case v.typ.IsTime():
		return v.t == o.t
	}
	a, _ := EncodeText(v)
	b, _ := EncodeText(o)
	return a == b
}

// Equal compares fields and every cell.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Fields) != len(o.Fields) || len(t.Rows) != len(o.Rows) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i] != o.Fields[i] {
			return false
		}
	}
	for r := range t.Rows {
		if len(t.Rows[r]) != len(o.Rows[r]) {
			return false
		}
		for c := range t.Rows[r] {
			if !t.Rows[r][c].Equal(o.Rows[r][c]) {
				return false
			}
		}
	}
	return true
}

// String is a human readable rendering, not the wire form.
func (v Value) String() string {
	if v.null {
		return "null"
	}
	switch {
	case v.typ.IsArray(), v.typ.IsField():
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case v.typ == TypeTable:
		return fmt.Sprintf("table(%d fields, %d rows)", len(v.table.Fields), len(v.table.Rows))
	case v.typ == TypeText:
		return strconv.Quote(v.s)
	}
	s, err := EncodeText(v)
	if err != nil {
		return fmt.Sprintf("%s(?)", v.typ)
	}
	return s
}
