package stackserver

import (
	"errors"
	"strings"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
)

// Procedure is a server-side routine. It consumes len(Params) stack values, last parameter
// on top, and pushes its result unless Return is undefined.
type Procedure struct {
	Name   string
	Return value.Desc
	Params []value.Desc
	Fn     func(args []value.Value) (value.Value, error)
}

// Double multiplies an int64 by two.
func Double() Procedure {
	return Procedure{
		Name:   "double",
		Return: value.Desc{Type: value.TypeInt64},
		Params: []value.Desc{{Type: value.TypeInt64}},
		Fn: func(args []value.Value) (value.Value, error) {
			n, err := args[0].AsInt()
			if err != nil {
				return value.Value{}, err
			}
			return value.Int64(2 * n), nil
		},
	}
}

// Repeat returns its text argument repeated n times.
func Repeat() Procedure {
	return Procedure{
		Name:   "repeat",
		Return: value.Desc{Type: value.TypeText},
		Params: []value.Desc{{Type: value.TypeText}, {Type: value.TypeUint32}},
		Fn: func(args []value.Value) (value.Value, error) {
			s, err := args[0].AsText()
			if err != nil {
				return value.Value{}, err
			}
			n, err := args[1].AsUint()
			if err != nil {
				return value.Value{}, err
			}
			return value.Text(strings.Repeat(s, int(n))), nil
		},
	}
}

// Fail always raises a runtime error.
func Fail() Procedure {
	return Procedure{
		Name: "fail",
		Fn: func([]value.Value) (value.Value, error) {
			return value.Value{}, errors.New("procedure failed")
		},
	}
}

// exec runs with srv.mu held.
func (c *conn) exec(cur *wire.Cursor) protocol.Code {
	name, err := cur.Text()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	p, ok := c.srv.procs[name]
	if !ok {
		return protocol.CodeProcNotFound
	}
	st := c.stack
	if len(st.entries) < len(p.Params) {
		return protocol.CodeInvalidArgs
	}
	base := len(st.entries) - len(p.Params)
	args := make([]value.Value, len(p.Params))
	for i, param := range p.Params {
		e := st.entries[base+i]
		if e.typ != param.Type {
			return protocol.CodeTypeMismatch
		}
		v, err := e.toValue()
		if err != nil {
			return protocol.CodeTypeMismatch
		}
		args[i] = v
	}
	result, err := p.Fn(args)
	if err != nil {
		var pe *protocol.Error
		if errors.As(err, &pe) {
			return pe.Code
		}
		return protocol.CodeProcRuntimeError
	}
	st.entries = st.entries[:base]
	if p.Return.Type != value.TypeUndefined {
		e, err := fromValue(result)
		if err != nil {
			return protocol.CodeProcRuntimeError
		}
		st.push(e)
	}
	return protocol.CodeOK
}

func (e *entry) toValue() (value.Value, error) {
	switch {
	case e.typ.IsTable():
		rows := make([][]value.Value, len(e.rows))
		for r, row := range e.rows {
			rows[r] = make([]value.Value, len(row))
			for f, c := range row {
				v, err := cellValue(e.fields[f].Type, c)
				if err != nil {
					return value.Value{}, err
				}
				rows[r][f] = v
			}
		}
		return value.TableOf(&value.Table{Fields: e.fields, Rows: rows})
	case e.typ.IsField():
		cells := make([]value.Value, len(e.rows))
		for r, row := range e.rows {
			v, err := cellValue(e.typ.CellType(), row[0])
			if err != nil {
				return value.Value{}, err
			}
			cells[r] = v
		}
		return value.Column(e.typ.CellType(), cells...)
	}
	return cellValue(e.typ, e.cell)
}

func cellValue(typ value.Type, c cell) (value.Value, error) {
	if c.null {
		return value.Null(typ), nil
	}
	if typ.IsArray() {
		elems := make([]value.Value, len(c.elems))
		for i, s := range c.elems {
			v, err := value.DecodeText(typ.Elem(), s)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = v
		}
		return value.Array(typ.Elem(), elems...)
	}
	return value.DecodeText(typ, string(c.text))
}

func fromValue(v value.Value) (*entry, error) {
	typ := v.Type()
	switch {
	case typ.IsTable():
		tbl := v.Table()
		e := &entry{typ: typ, fields: tbl.Fields}
		for _, row := range tbl.Rows {
			cells := make([]cell, len(row))
			for i, cv := range row {
				c, err := valueCell(cv)
				if err != nil {
					return nil, err
				}
				cells[i] = c
			}
			e.rows = append(e.rows, cells)
		}
		return e, nil
	case typ.IsField():
		e := &entry{typ: typ, fields: []value.Field{{Type: typ.CellType()}}}
		for _, cv := range v.Elems() {
			c, err := valueCell(cv)
			if err != nil {
				return nil, err
			}
			e.rows = append(e.rows, []cell{c})
		}
		return e, nil
	}
	c, err := valueCell(v)
	if err != nil {
		return nil, err
	}
	return &entry{typ: typ, cell: c}, nil
}

func valueCell(v value.Value) (cell, error) {
	if v.IsNull() {
		return nullCell(), nil
	}
	if v.Type().IsArray() {
		elems := make([]string, len(v.Elems()))
		for i, ev := range v.Elems() {
			s, err := value.EncodeText(ev)
			if err != nil {
				return cell{}, err
			}
			elems[i] = s
		}
		return cell{elems: elems}, nil
	}
	s, err := value.EncodeText(v)
	if err != nil {
		return cell{}, err
	}
	return cell{text: []rune(s)}, nil
}
