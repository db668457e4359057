package value

import (
	"strconv"
	"unicode/utf8"

	"github.com/danmuck/stackwire/internal/protocol"
)

// EncodeText renders a basic scalar or a text value in its wire form. Null basic values
// encode as the empty string.
func EncodeText(v Value) (string, error) {
	t := v.typ
	if v.null && t.IsBasic() {
		return "", nil
	}
	switch {
	case t == TypeBool:
		if v.b {
			return "1", nil
		}
		return "0", nil
	case t == TypeChar, t == TypeText:
		return v.s, nil
	case t.IsTime():
		return v.t.String(), nil
	case t.IsSigned():
		return strconv.FormatInt(v.i, 10), nil
	case t.IsUnsigned():
		return strconv.FormatUint(v.u, 10), nil
	case t.IsReal():
		return strconv.FormatFloat(v.f, 'f', -1, 64), nil
	}
	return "", protocol.Errorf(protocol.CodeTypeMismatch, "%s has no text form", t)
}

// DecodeText parses the wire form of a basic scalar or text of type t. An empty string is
// the null value for basic types.
func DecodeText(t Type, s string) (Value, error) {
	if t == TypeText {
		return Text(s), nil
	}
	if !t.IsBasic() {
		return Value{}, protocol.Errorf(protocol.CodeTypeMismatch, "%s has no text form", t)
	}
	if s == "" {
		return Null(t), nil
	}
	switch {
	case t == TypeBool:
		switch s {
		case "1":
			return Bool(true), nil
		case "0":
			return Bool(false), nil
		}
		return Value{}, syntaxError(t, s, nil)
	case t == TypeChar:
		if utf8.RuneCountInString(s) != 1 {
			return Value{}, syntaxError(t, s, nil)
		}
		r, _ := utf8.DecodeRuneInString(s)
		return Char(r), nil
	case t.IsTime():
		p, _ := PrecisionOf(t)
		tm, err := ParseTime(s, p)
		if err != nil {
			return Value{}, err
		}
		return Value{typ: t, t: tm}, nil
	case t.IsSigned():
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, syntaxError(t, s, err)
		}
		return Int(t, n)
	case t.IsUnsigned():
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Value{}, syntaxError(t, s, err)
		}
		return Uint(t, n)
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, syntaxError(t, s, err)
		}
		return Value{typ: t, f: f}, nil
	}
}

func syntaxError(t Type, s string, err error) error {
	if err == nil {
		return protocol.Errorf(protocol.CodeTypeMismatch, "%q is not a %s", s, t)
	}
	return protocol.Wrap(protocol.CodeTypeMismatch, strconv.Quote(s)+" is not a "+t.String(), err)
}
