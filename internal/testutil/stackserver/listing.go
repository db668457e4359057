package stackserver

import (
	"sort"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
)

// page writes count, index and as many entries from index on as the frame and the page
// limit allow. put must leave the writer untouched when it fails.
func page(w *wire.Writer, count, index uint32, limit int, put func(i uint32) error) protocol.Code {
	if index > count {
		return protocol.CodeInvalidArgs
	}
	_ = w.PutU32(count)
	_ = w.PutU32(index)
	written := 0
	for i := index; i < count; i++ {
		if limit > 0 && written >= limit {
			break
		}
		mark := w.Pos()
		if err := put(i); err != nil {
			w.Truncate(mark)
			break
		}
		written++
	}
	if written == 0 && index < count {
		return protocol.CodeLargeResponse
	}
	return protocol.CodeOK
}

func putFields(w *wire.Writer, fields []value.Field) error {
	if err := w.PutU16(uint16(len(fields))); err != nil {
		return err
	}
	for _, f := range fields {
		if err := w.PutCString([]byte(f.Name)); err != nil {
			return err
		}
		if err := w.PutU16(uint16(f.Type)); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) listGlobals(cur *wire.Cursor, w *wire.Writer) protocol.Code {
	index, err := cur.U32()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	globals := c.srv.globals
	_ = w.PutU32(uint32(protocol.CodeOK))
	return page(w, uint32(len(globals)), index, c.srv.opts.PageLimit, func(i uint32) error {
		return w.PutCString([]byte(globals[i].name))
	})
}

func (c *conn) listProcedures(cur *wire.Cursor, w *wire.Writer) protocol.Code {
	index, err := cur.U32()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	names := make([]string, 0, len(c.srv.procs))
	for name := range c.srv.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	_ = w.PutU32(uint32(protocol.CodeOK))
	return page(w, uint32(len(names)), index, c.srv.opts.PageLimit, func(i uint32) error {
		return w.PutCString([]byte(names[i]))
	})
}

func (c *conn) describeGlobal(cur *wire.Cursor, w *wire.Writer) protocol.Code {
	name, err := cur.Text()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	index, err := cur.U32()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	var desc *value.Desc
	for i := range c.srv.globals {
		if c.srv.globals[i].name == name {
			desc = &c.srv.globals[i].desc
		}
	}
	if desc == nil {
		return protocol.CodeInvalidArgs
	}
	fields := desc.Fields
	_ = w.PutU32(uint32(protocol.CodeOK))
	if index > uint32(len(fields)) {
		return protocol.CodeInvalidArgs
	}
	_ = w.PutU32(uint32(len(fields)))
	_ = w.PutU32(index)
	_ = w.PutU16(uint16(desc.Type))
	limit := c.srv.opts.PageLimit
	for i := int(index); i < len(fields); i++ {
		if limit > 0 && i-int(index) >= limit {
			break
		}
		mark := w.Pos()
		if w.PutCString([]byte(fields[i].Name)) != nil || w.PutU16(uint16(fields[i].Type)) != nil {
			w.Truncate(mark)
			break
		}
	}
	return protocol.CodeOK
}

func (c *conn) describeProc(cur *wire.Cursor, w *wire.Writer) protocol.Code {
	name, err := cur.Text()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	index, err := cur.U32()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	p, ok := c.srv.procs[name]
	if !ok {
		return protocol.CodeProcNotFound
	}
	entries := append([]value.Desc{p.Return}, p.Params...)
	_ = w.PutU32(uint32(protocol.CodeOK))
	return page(w, uint32(len(entries)), index, c.srv.opts.PageLimit, func(i uint32) error {
		if err := w.PutU16(uint16(entries[i].Type)); err != nil {
			return err
		}
		return putFields(w, entries[i].Fields)
	})
}
