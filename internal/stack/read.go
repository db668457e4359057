package stack

import (
	"strings"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
)

// readCache tracks the cell run held by the session's cached READ_STACK response.
type readCache struct {
	cur   *wire.Cursor
	field string
	typ   value.Type
	rows  uint64
	// next is the row of the record at cur.
	next uint64
}

func (c *Conn) cacheValid() bool {
	return c.rc.cur != nil && c.s.Cached() == protocol.CmdReadStack
}

// beginRead flushes buffered updates so reads observe them.
func (c *Conn) beginRead() error {
	if c.State() == StateDirty {
		return c.Flush()
	}
	return nil
}

// readStack issues READ_STACK for the given cursor, replacing any cached response.
func (c *Conn) readStack(field string, row, arrOff, textOff uint64) (*wire.Cursor, error) {
	if c.s.Cached() == protocol.CmdReadStack {
		c.s.Discard()
	}
	c.rc = readCache{}
	return c.roundTrip(protocol.CmdReadStack, func(w *wire.Writer) error {
		if err := w.PutCString([]byte(field)); err != nil {
			return err
		}
		for _, v := range [...]uint64{row, arrOff, textOff} {
			if err := w.PutU64(v); err != nil {
				return err
			}
		}
		return nil
	})
}

func echoError(format string, args ...any) error {
	return protocol.Errorf(protocol.CodeGeneralError, "read_stack echo: "+format, args...)
}

// startRun checks a cell run header and caches it positioned at row.
func (c *Conn) startRun(cur *wire.Cursor, field string, row uint64) error {
	raw, err := cur.U16()
	if err != nil {
		return echoError("missing type")
	}
	typ := value.Type(raw)
	if typ.IsTable() {
		return protocol.Errorf(protocol.CodeInvalidField, "top is a table, cells need a field name")
	}
	if !typ.IsField() || !typ.CellType().ValidCell() {
		return echoError("type %s is not a field", typ)
	}
	rows, err := cur.U64()
	if err != nil {
		return echoError("missing row count")
	}
	c.rc = readCache{cur: cur, field: field, typ: typ.CellType(), rows: rows, next: row}
	return nil
}

// readRun requests the run of field starting at row, resuming a cell at the given offsets.
func (c *Conn) readRun(field string, row, arrOff, textOff uint64) error {
	prev := c.rc
	cur, err := c.readStack(field, row, arrOff, textOff)
	if err != nil {
		return err
	}
	if err := c.startRun(cur, field, row); err != nil {
		c.Discard()
		return err
	}
	if prev.cur != nil && prev.field == field && (prev.typ != c.rc.typ || prev.rows != c.rc.rows) {
		c.Discard()
		return echoError("column changed between requests")
	}
	return nil
}

// piece is one cell record, possibly a partial text or array.
type piece struct {
	null  bool
	total uint64
	off   uint64
	text  string
	elems []string
}

func (p piece) count() uint64 {
	if p.elems != nil {
		return uint64(len(p.elems))
	}
	return uint64(len([]rune(p.text)))
}

func readPiece(cur *wire.Cursor, typ value.Type) (piece, error) {
	if !typ.IsArray() && !typ.IsText() {
		s, err := cur.Text()
		if err != nil {
			return piece{}, echoError("cell: %v", err)
		}
		return piece{text: s}, nil
	}
	var p piece
	var err error
	if p.total, err = cur.U64(); err != nil {
		return piece{}, echoError("cell total: %v", err)
	}
	if p.off, err = cur.U64(); err != nil {
		return piece{}, echoError("cell offset: %v", err)
	}
	p.null = p.total == protocol.Ignore
	if typ.IsText() {
		if p.text, err = cur.Text(); err != nil {
			return piece{}, echoError("text chunk: %v", err)
		}
		return p, nil
	}
	n, err := cur.U16()
	if err != nil {
		return piece{}, echoError("array count: %v", err)
	}
	p.elems = make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		s, err := cur.Text()
		if err != nil {
			return piece{}, echoError("array element: %v", err)
		}
		p.elems = append(p.elems, s)
	}
	return p, nil
}

// assembler joins the pieces of one cell.
type assembler struct {
	typ   value.Type
	null  bool
	total uint64
	done  uint64
	text  strings.Builder
	elems []string
}

func (a *assembler) add(p piece) error {
	if p.null {
		if a.done != 0 || p.off != 0 {
			return echoError("null cell after partial content")
		}
		a.null = true
		return nil
	}
	if p.off != a.done {
		return echoError("offset %d, requested %d", p.off, a.done)
	}
	if a.done == 0 {
		a.total = p.total
	} else if p.total != a.total {
		return echoError("cell length changed from %d to %d", a.total, p.total)
	}
	a.text.WriteString(p.text)
	a.elems = append(a.elems, p.elems...)
	a.done += p.count()
	if a.done > a.total {
		return echoError("cell overruns its length %d", a.total)
	}
	return nil
}

func (a *assembler) complete() bool {
	return a.null || a.done == a.total
}

func (a *assembler) value() (value.Value, error) {
	switch {
	case a.null:
		return value.Null(a.typ), nil
	case a.typ.IsArray():
		elems := make([]value.Value, len(a.elems))
		for i, s := range a.elems {
			e, err := value.DecodeText(a.typ.Elem(), s)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = e
		}
		return value.Array(a.typ.Elem(), elems...)
	}
	return value.DecodeText(a.typ, a.text.String())
}

// readCell reads the cell at cur and, when it was cut short, requests continuations until
// it is whole. resume issues the follow-up request for the given offset.
func readCell(cur *wire.Cursor, typ value.Type, resume func(done uint64) (*wire.Cursor, error)) (value.Value, *wire.Cursor, error) {
	p, err := readPiece(cur, typ)
	if err != nil {
		return value.Value{}, cur, err
	}
	if !typ.IsArray() && !typ.IsText() {
		v, err := value.DecodeText(typ, p.text)
		return v, cur, err
	}
	a := &assembler{typ: typ}
	if err := a.add(p); err != nil {
		return value.Value{}, cur, err
	}
	for !a.complete() {
		if !cur.Done() {
			return value.Value{}, cur, echoError("partial cell is not the last record")
		}
		before := a.done
		if cur, err = resume(a.done); err != nil {
			return value.Value{}, cur, err
		}
		p, err := readPiece(cur, typ)
		if err != nil {
			return value.Value{}, cur, err
		}
		if err := a.add(p); err != nil {
			return value.Value{}, cur, err
		}
		if a.done == before && !a.complete() {
			return value.Value{}, cur, echoError("continuation made no progress")
		}
	}
	v, err := a.value()
	return v, cur, err
}

func resumeOffsets(typ value.Type, done uint64) (arrOff, textOff uint64) {
	if typ.IsArray() {
		return done, protocol.Ignore
	}
	return protocol.Ignore, done
}

// skipRecord discards the record at the cursor. It reports false when the record was a
// partial cell, which always ends the frame.
func (c *Conn) skipRecord() (bool, error) {
	rc := &c.rc
	r, err := rc.cur.U64()
	if err != nil {
		return false, echoError("record row: %v", err)
	}
	if r != rc.next {
		return false, echoError("record row %d, expected %d", r, rc.next)
	}
	p, err := readPiece(rc.cur, rc.typ)
	if err != nil {
		return false, err
	}
	if !p.null && (rc.typ.IsArray() || rc.typ.IsText()) && p.off+p.count() < p.total {
		return false, nil
	}
	rc.next++
	return true, nil
}

// cellAt returns the cell at row of field. Rows already present in the cached response are
// served from it; earlier rows are skipped, later ones trigger a new request.
func (c *Conn) cellAt(field string, row uint64) (value.Value, error) {
	for {
		if !c.cacheValid() || c.rc.field != field || c.rc.next > row || c.rc.cur.Done() {
			if err := c.readRun(field, row, protocol.Ignore, protocol.Ignore); err != nil {
				return value.Value{}, err
			}
		}
		if c.rc.next == row {
			break
		}
		whole, err := c.skipRecord()
		if err != nil {
			c.Discard()
			return value.Value{}, err
		}
		if !whole {
			c.rc.cur = nil
		}
	}

	rc := &c.rc
	if row >= rc.rows {
		return value.Value{}, protocol.Errorf(protocol.CodeInvalidRow, "row %d of %d", row, rc.rows)
	}
	r, err := rc.cur.U64()
	if err != nil || r != row {
		c.Discard()
		return value.Value{}, echoError("record row %d, expected %d", r, row)
	}
	typ := rc.typ
	v, cur, err := readCell(rc.cur, typ, func(done uint64) (*wire.Cursor, error) {
		arrOff, textOff := resumeOffsets(typ, done)
		if err := c.readRun(field, row, arrOff, textOff); err != nil {
			return nil, err
		}
		got, err := c.rc.cur.U64()
		if err != nil || got != row {
			return nil, echoError("continuation row %d, expected %d", got, row)
		}
		return c.rc.cur, nil
	})
	if err != nil {
		c.Discard()
		return value.Value{}, err
	}
	c.rc.cur = cur
	c.rc.next = row + 1
	return v, nil
}

// RetrieveCell returns one cell of the table on top, or one row of the field on top when
// field is empty. The response stays cached so neighbouring rows are served without
// another round trip; call Discard to leave StateReadCached.
func (c *Conn) RetrieveCell(field string, row uint64) (value.Value, error) {
	if err := c.beginRead(); err != nil {
		return value.Value{}, err
	}
	if strings.IndexByte(field, 0) >= 0 {
		return value.Value{}, protocol.Errorf(protocol.CodeInvalidField, "field name contains NUL")
	}
	return c.cellAt(field, row)
}

// RetrieveTop returns the whole value on top of the stack and leaves the Conn idle.
func (c *Conn) RetrieveTop() (value.Value, error) {
	if err := c.beginRead(); err != nil {
		return value.Value{}, err
	}
	defer c.Discard()
	cur, err := c.readStack("", protocol.Ignore, protocol.Ignore, protocol.Ignore)
	if err != nil {
		return value.Value{}, err
	}
	raw, err := cur.U16()
	if err != nil {
		return value.Value{}, echoError("missing type")
	}
	typ := value.Type(raw)
	switch {
	case typ.IsTable():
		desc, rows, err := readTableHeader(cur)
		if err != nil {
			return value.Value{}, err
		}
		return c.retrieveTable(desc, rows)
	case typ.IsField():
		if err := cur.Seek(cur.Pos() - 2); err != nil {
			return value.Value{}, echoError("rewind: %v", err)
		}
		if err := c.startRun(cur, "", 0); err != nil {
			return value.Value{}, err
		}
		cells := make([]value.Value, 0, c.rc.rows)
		for r := uint64(0); r < c.rc.rows; r++ {
			v, err := c.cellAt("", r)
			if err != nil {
				return value.Value{}, err
			}
			cells = append(cells, v)
		}
		return value.Column(typ.CellType(), cells...)
	case !typ.Valid():
		return value.Value{}, echoError("unknown type %#04x", raw)
	}
	v, _, err := readCell(cur, typ, func(done uint64) (*wire.Cursor, error) {
		arrOff, textOff := resumeOffsets(typ, done)
		next, err := c.readStack("", protocol.Ignore, arrOff, textOff)
		if err != nil {
			return nil, err
		}
		if got, err := next.U16(); err != nil || value.Type(got) != typ {
			return nil, echoError("continuation type %#04x, expected %s", got, typ)
		}
		return next, nil
	})
	return v, err
}

func (c *Conn) retrieveTable(desc value.Desc, rows uint64) (value.Value, error) {
	tbl := &value.Table{Fields: desc.Fields, Rows: make([][]value.Value, rows)}
	for r := range tbl.Rows {
		tbl.Rows[r] = make([]value.Value, len(desc.Fields))
	}
	for i, f := range desc.Fields {
		for r := uint64(0); r < rows; r++ {
			v, err := c.cellAt(f.Name, r)
			if err != nil {
				return value.Value{}, err
			}
			if v.Type() != f.Type {
				return value.Value{}, echoError("field %q returned %s, described as %s", f.Name, v.Type(), f.Type)
			}
			tbl.Rows[r][i] = v
		}
	}
	return value.TableOf(tbl)
}

func readTableHeader(cur *wire.Cursor) (value.Desc, uint64, error) {
	rows, err := cur.U64()
	if err != nil {
		return value.Desc{}, 0, echoError("table rows: %v", err)
	}
	n, err := cur.U16()
	if err != nil {
		return value.Desc{}, 0, echoError("table field count: %v", err)
	}
	desc := value.Desc{Type: value.TypeTable, Fields: make([]value.Field, 0, n)}
	for i := 0; i < int(n); i++ {
		name, err := cur.Text()
		if err != nil {
			return value.Desc{}, 0, echoError("field name: %v", err)
		}
		typ, err := cur.U16()
		if err != nil {
			return value.Desc{}, 0, echoError("field type: %v", err)
		}
		desc.Fields = append(desc.Fields, value.Field{Name: name, Type: value.Type(typ)})
	}
	return desc, rows, nil
}

// DescribeTop returns the description of the value on top of the stack and, for tables
// and fields, its row count.
func (c *Conn) DescribeTop() (value.Desc, uint64, error) {
	if err := c.beginRead(); err != nil {
		return value.Desc{}, 0, err
	}
	defer c.Discard()
	cur, err := c.readStack("", protocol.Ignore, protocol.Ignore, protocol.Ignore)
	if err != nil {
		return value.Desc{}, 0, err
	}
	raw, err := cur.U16()
	if err != nil {
		return value.Desc{}, 0, echoError("missing type")
	}
	typ := value.Type(raw)
	switch {
	case typ.IsTable():
		return readTableHeader(cur)
	case typ.IsField():
		rows, err := cur.U64()
		if err != nil {
			return value.Desc{}, 0, echoError("field rows: %v", err)
		}
		return value.Desc{Type: typ}, rows, nil
	}
	return value.Desc{Type: typ}, 0, nil
}

// TopRows returns the row count of the table or field on top of the stack.
func (c *Conn) TopRows() (uint64, error) {
	desc, rows, err := c.DescribeTop()
	if err != nil {
		return 0, err
	}
	if !desc.Type.IsTable() && !desc.Type.IsField() {
		return 0, protocol.Errorf(protocol.CodeTypeMismatch, "top is %s, not a table", desc.Type)
	}
	return rows, nil
}
