package value

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/stackwire/internal/protocol"
)

func TestTypeFlagsAndNames(t *testing.T) {
	cases := []struct {
		typ  Type
		name string
	}{
		{TypeInt32, "int32"},
		{TypeText.ArrayOf(), "text[]"},
		{TypeUint8 | FlagArray | FlagField, "field uint8[]"},
		{TypeTable, "table"},
		{Type(0x0800), "type(0x0800)"},
	}
	for _, tc := range cases {
		if got := tc.typ.String(); got != tc.name {
			t.Fatalf("%#04x String()=%q want %q", uint16(tc.typ), got, tc.name)
		}
	}
	if !TypeTable.Valid() || TypeUndefined.Valid() || Type(0x0011).Valid() {
		t.Fatalf("validity checks wrong")
	}
	if (TypeReal | FlagField).CellType() != TypeReal {
		t.Fatalf("cell type did not clear the field flag")
	}
	for _, name := range []string{"int8", "hirestime[]", "table", "text"} {
		typ, err := ParseType(name)
		if err != nil || typ.String() != name {
			t.Fatalf("ParseType(%q)=%s err=%v", name, typ, err)
		}
	}
}

func TestTextCodecRoundTrip(t *testing.T) {
	hires, err := TimeOf(Time{Year: 2024, Month: 2, Day: 29, Hour: 23, Minute: 59, Second: 58, Microsecond: 120, Precision: PrecisionHires})
	if err != nil {
		t.Fatalf("hires: %v", err)
	}
	i8, _ := Int(TypeInt8, -128)
	u16, _ := Uint(TypeUint16, 65535)
	cases := []struct {
		v    Value
		wire string
	}{
		{Bool(true), "1"},
		{Bool(false), "0"},
		{Char('é'), "é"},
		{i8, "-128"},
		{u16, "65535"},
		{Int64(42), "42"},
		{Real(2.5), "2.5"},
		{RichReal(-0.125), "-0.125"},
		{hires, "2024/02/29 23:59:58.000120"},
		{Null(TypeInt32), ""},
	}
	for _, tc := range cases {
		got, err := EncodeText(tc.v)
		if err != nil || got != tc.wire {
			t.Fatalf("encode %s=%q err=%v want %q", tc.v.Type(), got, err, tc.wire)
		}
		back, err := DecodeText(tc.v.Type(), got)
		if err != nil {
			t.Fatalf("decode %s %q: %v", tc.v.Type(), got, err)
		}
		if !back.Equal(tc.v) {
			t.Fatalf("round trip %s: %v != %v", tc.v.Type(), back, tc.v)
		}
	}
}

func TestDecodeTextRejectsGarbage(t *testing.T) {
	cases := []struct {
		typ  Type
		wire string
	}{
		{TypeBool, "yes"},
		{TypeChar, "ab"},
		{TypeInt8, "200"},
		{TypeUint32, "-1"},
		{TypeReal, "pi"},
		{TypeDate, "2023/02/29"},
		{TypeDateTime, "2023/01/01"},
		{TypeHiresTime, "2023/01/01 10:00:00"},
	}
	for _, tc := range cases {
		if _, err := DecodeText(tc.typ, tc.wire); err == nil {
			t.Fatalf("decode %s %q succeeded", tc.typ, tc.wire)
		}
	}
	if _, err := DecodeText(TypeInt8.ArrayOf(), "1"); !errors.Is(err, protocol.ErrTypeMismatch) {
		t.Fatalf("expected TypeMismatch for array, got %v", err)
	}
}

func TestTimeValidate(t *testing.T) {
	bad := []Time{
		{Year: 2023, Month: 13, Day: 1},
		{Year: 2023, Month: 4, Day: 31},
		{Year: 2023, Month: 1, Day: 1, Hour: 1},
		{Year: 2023, Month: 1, Day: 1, Microsecond: 5, Precision: PrecisionDateTime},
		{Year: 2023, Month: 1, Day: 1, Hour: 24, Precision: PrecisionDateTime},
		{Year: 10000, Month: 1, Day: 1},
	}
	for _, tm := range bad {
		if err := tm.Validate(); !errors.Is(err, protocol.ErrInvalidArgs) {
			t.Fatalf("%+v validated: %v", tm, err)
		}
	}
	good := FromTime(time.Date(2000, 2, 29, 12, 30, 15, 999999000, time.UTC), PrecisionHires)
	if err := good.Validate(); err != nil {
		t.Fatalf("leap day: %v", err)
	}
	if good.Std().Nanosecond() != 999999000 {
		t.Fatalf("std lost microseconds: %v", good.Std())
	}
	if d := FromTime(good.Std(), PrecisionDate); d.Hour != 0 || d.Type() != TypeDate {
		t.Fatalf("date precision kept clock: %+v", d)
	}
}

func TestIntegerBounds(t *testing.T) {
	if _, err := Int(TypeInt16, 1<<15); !errors.Is(err, protocol.ErrInvalidArgs) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Int(TypeUint8, 1); !errors.Is(err, protocol.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	v, _ := Uint(TypeUint32, 7)
	if n, err := v.AsInt(); err != nil || n != 7 {
		t.Fatalf("AsInt=%d err=%v", n, err)
	}
	if _, err := Int64(-1).AsUint(); !errors.Is(err, protocol.ErrTypeMismatch) {
		t.Fatalf("negative AsUint: %v", err)
	}
}

func TestArrayAndTableConstruction(t *testing.T) {
	arr, err := Array(TypeInt64, Int64(1), Null(TypeInt64), Int64(3))
	if err != nil {
		t.Fatalf("array: %v", err)
	}
	if arr.Type() != TypeInt64|FlagArray || len(arr.Elems()) != 3 {
		t.Fatalf("array=%v type=%s", arr, arr.Type())
	}
	if _, err := Array(TypeInt64, Text("x")); !errors.Is(err, protocol.ErrTypeMismatch) {
		t.Fatalf("expected element mismatch, got %v", err)
	}

	tbl := &Table{
		Fields: []Field{{Name: "id", Type: TypeInt64}, {Name: "name", Type: TypeText}},
		Rows:   [][]Value{{Int64(1), Text("a")}, {Int64(2), Null(TypeText)}},
	}
	tv, err := TableOf(tbl)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if !tv.Equal(tv) || tv.Table() != tbl {
		t.Fatalf("table value lost its rows")
	}
	tbl.Fields = append(tbl.Fields, Field{Name: "id", Type: TypeBool})
	if _, err := TableOf(tbl); !errors.Is(err, protocol.ErrInvalidField) {
		t.Fatalf("expected duplicate field error, got %v", err)
	}
}
