package stack

import (
	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
)

// Procedure describes a server procedure. Params are in push order.
type Procedure struct {
	Name   string
	Return value.Desc
	Params []value.Desc
}

// listing describes one paginated command.
type listing struct {
	cmd uint16
	// name is sent before the index hint when non-empty.
	name string
	// head reads per-page data between (count, index) and the entries.
	head func(cur *wire.Cursor) error
	// entry consumes entry i.
	entry func(cur *wire.Cursor, i uint32) error
}

// paginate requests pages from index 0 until every entry has been consumed. Each page must
// echo the requested index and the same count.
func (c *Conn) paginate(l listing) (uint32, error) {
	if err := c.beginRead(); err != nil {
		return 0, err
	}
	op := protocol.CommandName(l.cmd)
	var index, count uint32
	for first := true; first || index < count; first = false {
		cur, err := c.roundTrip(l.cmd, func(w *wire.Writer) error {
			if l.name != "" {
				if err := w.PutCString([]byte(l.name)); err != nil {
					return err
				}
			}
			return w.PutU32(index)
		})
		if err != nil {
			return 0, err
		}
		n, err := c.page(cur, l, index, count, first)
		if err != nil {
			c.s.Discard()
			return 0, protocol.Wrap(protocol.CodeGeneralError, op+" page", err)
		}
		if first {
			count = n
		}
		next, err := c.consume(cur, l, index, count)
		c.s.Discard()
		if err != nil {
			return 0, protocol.Wrap(protocol.CodeGeneralError, op+" page", err)
		}
		if count == 0 {
			break
		}
		if next == index {
			return 0, protocol.Errorf(protocol.CodeGeneralError, "%s page at %d carried no entries", op, index)
		}
		c.log.Debug().Str("cmd", op).Uint32("index", index).Uint32("next", next).Uint32("count", count).Msg("page read")
		index = next
	}
	return count, nil
}

// page validates the (count, index) echo and runs the page head.
func (c *Conn) page(cur *wire.Cursor, l listing, index, count uint32, first bool) (uint32, error) {
	n, err := cur.U32()
	if err != nil {
		return 0, err
	}
	got, err := cur.U32()
	if err != nil {
		return 0, err
	}
	if got != index {
		return 0, echoError("page index %d, requested %d", got, index)
	}
	if !first && n != count {
		return 0, echoError("entry count changed from %d to %d", count, n)
	}
	if l.head != nil {
		if err := l.head(cur); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (c *Conn) consume(cur *wire.Cursor, l listing, index, count uint32) (uint32, error) {
	i := index
	for !cur.Done() {
		if i >= count {
			return 0, echoError("page carries more than %d entries", count)
		}
		if err := l.entry(cur, i); err != nil {
			return 0, err
		}
		i++
	}
	return i, nil
}

func (c *Conn) listNames(cmd uint16) ([]string, error) {
	var names []string
	_, err := c.paginate(listing{
		cmd: cmd,
		entry: func(cur *wire.Cursor, _ uint32) error {
			name, err := cur.Text()
			if err != nil {
				return err
			}
			names = append(names, name)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ListGlobals returns the names of the server's globals in server order.
func (c *Conn) ListGlobals() ([]string, error) {
	return c.listNames(protocol.CmdListGlobals)
}

// ListProcedures returns the names of the server's procedures in server order.
func (c *Conn) ListProcedures() ([]string, error) {
	return c.listNames(protocol.CmdListProcedures)
}

func readFields(cur *wire.Cursor, n int) ([]value.Field, error) {
	fields := make([]value.Field, 0, n)
	for i := 0; i < n; i++ {
		name, err := cur.Text()
		if err != nil {
			return nil, err
		}
		typ, err := cur.U16()
		if err != nil {
			return nil, err
		}
		fields = append(fields, value.Field{Name: name, Type: value.Type(typ)})
	}
	return fields, nil
}

// DescribeGlobal returns the type of a global and, for tables, its fields.
func (c *Conn) DescribeGlobal(name string) (value.Desc, error) {
	if name == "" {
		return value.Desc{}, protocol.Errorf(protocol.CodeInvalidArgs, "global name is empty")
	}
	var desc value.Desc
	typed := false
	_, err := c.paginate(listing{
		cmd:  protocol.CmdDescribeGlobal,
		name: name,
		head: func(cur *wire.Cursor) error {
			raw, err := cur.U16()
			if err != nil {
				return err
			}
			if typed && value.Type(raw) != desc.Type {
				return echoError("global %q changed type", name)
			}
			desc.Type, typed = value.Type(raw), true
			return nil
		},
		entry: func(cur *wire.Cursor, _ uint32) error {
			fields, err := readFields(cur, 1)
			if err != nil {
				return err
			}
			desc.Fields = append(desc.Fields, fields...)
			return nil
		},
	})
	if err != nil {
		return value.Desc{}, err
	}
	return desc, nil
}

// DescribeProcedure returns the return type and parameters of a procedure. Descriptions
// are cached per Conn when the procedure cache is enabled.
func (c *Conn) DescribeProcedure(name string) (Procedure, error) {
	if name == "" {
		return Procedure{}, protocol.Errorf(protocol.CodeInvalidArgs, "procedure name is empty")
	}
	if c.procs != nil {
		if p, ok := c.procs.Get(name); ok {
			return p.(Procedure), nil
		}
	}
	var entries []value.Desc
	count, err := c.paginate(listing{
		cmd:  protocol.CmdDescribeProcParams,
		name: name,
		entry: func(cur *wire.Cursor, _ uint32) error {
			typ, err := cur.U16()
			if err != nil {
				return err
			}
			n, err := cur.U16()
			if err != nil {
				return err
			}
			fields, err := readFields(cur, int(n))
			if err != nil {
				return err
			}
			d := value.Desc{Type: value.Type(typ)}
			if len(fields) > 0 {
				d.Fields = fields
			}
			entries = append(entries, d)
			return nil
		},
	})
	if err != nil {
		return Procedure{}, err
	}
	if count == 0 {
		return Procedure{}, echoError("procedure %q has no return entry", name)
	}
	p := Procedure{Name: name, Return: entries[0], Params: entries[1:]}
	if c.procs != nil {
		c.procs.Add(name, p)
	}
	return p, nil
}

// ForgetProcedure drops a cached procedure description.
func (c *Conn) ForgetProcedure(name string) {
	if c.procs != nil {
		c.procs.Remove(name)
	}
}
