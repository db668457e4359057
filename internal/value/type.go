// Package value models the typed values that live on the server execution stack and their
// scalar wire-text encoding.
package value

import (
	"fmt"
	"strings"
)

// Type is the 16-bit type tag used on the wire. The low byte is the base type, the high
// byte carries the array, field and table flags.
type Type uint16

const (
	TypeUndefined Type = 0
	TypeBool      Type = 1
	TypeChar      Type = 2
	TypeDate      Type = 3
	TypeDateTime  Type = 4
	TypeHiresTime Type = 5
	TypeInt8      Type = 6
	TypeInt16     Type = 7
	TypeInt32     Type = 8
	TypeInt64     Type = 9
	TypeUint8     Type = 10
	TypeUint16    Type = 11
	TypeUint32    Type = 12
	TypeUint64    Type = 13
	TypeReal      Type = 14
	TypeRichReal  Type = 15
	TypeText      Type = 16

	FlagArray Type = 0x0100
	FlagField Type = 0x0200
	FlagTable Type = 0x0400

	baseMask = 0x00FF
	lastBase = TypeText
)

// TypeTable is the tag of a whole table value.
const TypeTable = FlagTable

var baseNames = [...]string{
	TypeUndefined: "undefined",
	TypeBool:      "bool",
	TypeChar:      "char",
	TypeDate:      "date",
	TypeDateTime:  "datetime",
	TypeHiresTime: "hirestime",
	TypeInt8:      "int8",
	TypeInt16:     "int16",
	TypeInt32:     "int32",
	TypeInt64:     "int64",
	TypeUint8:     "uint8",
	TypeUint16:    "uint16",
	TypeUint32:    "uint32",
	TypeUint64:    "uint64",
	TypeReal:      "real",
	TypeRichReal:  "richreal",
	TypeText:      "text",
}

func (t Type) Base() Type     { return t & baseMask }
func (t Type) IsArray() bool  { return t&FlagArray != 0 }
func (t Type) IsField() bool  { return t&FlagField != 0 }
func (t Type) IsTable() bool  { return t&FlagTable != 0 }
func (t Type) IsText() bool   { return t == TypeText }
func (t Type) Elem() Type     { return t &^ FlagArray }
func (t Type) ArrayOf() Type  { return t | FlagArray }
func (t Type) CellType() Type { return t &^ FlagField }

// IsBasic reports whether t is a non-text scalar carried as a single wire string.
func (t Type) IsBasic() bool {
	return t >= TypeBool && t < TypeText
}

func (t Type) IsTime() bool {
	return t == TypeDate || t == TypeDateTime || t == TypeHiresTime
}

func (t Type) IsSigned() bool {
	return t >= TypeInt8 && t <= TypeInt64
}

func (t Type) IsUnsigned() bool {
	return t >= TypeUint8 && t <= TypeUint64
}

func (t Type) IsReal() bool {
	return t == TypeReal || t == TypeRichReal
}

// Valid reports whether t is a tag the stack can hold: a scalar, an array of scalars, a
// table, or a table field of either kind.
func (t Type) Valid() bool {
	if t == TypeTable {
		return true
	}
	if t&^(FlagArray|FlagField|baseMask) != 0 {
		return false
	}
	base := t.Base()
	return base > TypeUndefined && base <= lastBase
}

// ValidCell reports whether t can be the type of a table field.
func (t Type) ValidCell() bool {
	return t.Valid() && !t.IsTable() && !t.IsField()
}

func (t Type) String() string {
	if t == TypeTable {
		return "table"
	}
	base := t.Base()
	if int(base) >= len(baseNames) || t&^(FlagArray|FlagField|baseMask) != 0 {
		return fmt.Sprintf("type(%#04x)", uint16(t))
	}
	var b strings.Builder
	if t.IsField() {
		b.WriteString("field ")
	}
	b.WriteString(baseNames[base])
	if t.IsArray() {
		b.WriteString("[]")
	}
	return b.String()
}

// ParseType maps the String form of a cell or scalar type back to its tag.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "table" {
		return TypeTable, nil
	}
	var flags Type
	if strings.HasSuffix(s, "[]") {
		flags = FlagArray
		s = strings.TrimSuffix(s, "[]")
	}
	for i, name := range baseNames {
		if i != int(TypeUndefined) && name == s {
			return Type(i) | flags, nil
		}
	}
	return TypeUndefined, fmt.Errorf("value: unknown type %q", s)
}

// Field is one column of a table: its name and cell type.
type Field struct {
	Name string
	Type Type
}

// Desc describes a stack slot: its type and, for tables, the field list.
type Desc struct {
	Type   Type
	Fields []Field
}

func (d Desc) String() string {
	if !d.Type.IsTable() {
		return d.Type.String()
	}
	var b strings.Builder
	b.WriteString("table(")
	for i, f := range d.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(" ")
		b.WriteString(f.Type.String())
	}
	b.WriteString(")")
	return b.String()
}
