package stackserver

import (
	"unicode/utf8"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
)

// cell holds one value in wire form: the text of a basic scalar or a text value, or the
// element texts of an array.
type cell struct {
	null  bool
	text  []rune
	elems []string
}

func nullCell() cell { return cell{null: true} }

// entry is one stack slot. Tables keep rows of cells; a field keeps a single column.
type entry struct {
	typ    value.Type
	cell   cell
	fields []value.Field
	rows   [][]cell
}

type stack struct {
	entries []*entry
}

func (s *stack) top() *entry {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1]
}

func (s *stack) push(e *entry) { s.entries = append(s.entries, e) }

func (e *entry) fieldIndex(name string) int {
	for i, f := range e.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// update applies UPDATE_STACK sub-commands in order and stops at the first failure.
func (s *stack) update(cur *wire.Cursor) protocol.Code {
	for !cur.Done() {
		op, _ := cur.U8()
		var code protocol.Code
		switch op {
		case protocol.SubPop:
			code = s.pop(cur)
		case protocol.SubPush:
			code = s.pushType(cur)
		case protocol.SubChangeTop:
			code = s.changeTop(cur)
		case protocol.SubTableRows:
			code = s.addRows(cur)
		default:
			code = protocol.CodeInvalidArgs
		}
		if code != protocol.CodeOK {
			return code
		}
	}
	return protocol.CodeOK
}

func (s *stack) pop(cur *wire.Cursor) protocol.Code {
	n, err := cur.I32()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	if n == protocol.PopAll {
		s.entries = s.entries[:0]
		return protocol.CodeOK
	}
	if n < 0 || int(n) > len(s.entries) {
		return protocol.CodeInvalidArgs
	}
	s.entries = s.entries[:len(s.entries)-int(n)]
	return protocol.CodeOK
}

func readFields(cur *wire.Cursor) ([]value.Field, error) {
	n, err := cur.U16()
	if err != nil {
		return nil, err
	}
	fields := make([]value.Field, 0, n)
	for i := 0; i < int(n); i++ {
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

func (s *stack) pushType(cur *wire.Cursor) protocol.Code {
	raw, err := cur.U16()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	typ := value.Type(raw)
	if !typ.Valid() || typ.IsField() {
		return protocol.CodeTypeMismatch
	}
	e := &entry{typ: typ, cell: nullCell()}
	if typ.IsTable() {
		fields, err := readFields(cur)
		if err != nil {
			return protocol.CodeInvalidArgs
		}
		if _, err := value.TableOf(&value.Table{Fields: fields}); err != nil {
			return protocol.CodeOf(err)
		}
		e.fields = fields
	}
	s.push(e)
	return protocol.CodeOK
}

func (s *stack) addRows(cur *wire.Cursor) protocol.Code {
	n, err := cur.U64()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	top := s.top()
	if top == nil || !top.typ.IsTable() {
		return protocol.CodeTypeMismatch
	}
	for i := uint64(0); i < n; i++ {
		row := make([]cell, len(top.fields))
		for j := range row {
			row[j] = nullCell()
		}
		top.rows = append(top.rows, row)
	}
	return protocol.CodeOK
}

func (s *stack) changeTop(cur *wire.Cursor) protocol.Code {
	field, err := cur.Text()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	row, err := cur.U64()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	raw, err := cur.U16()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	typ := value.Type(raw)

	top := s.top()
	if top == nil {
		return protocol.CodeInvalidArgs
	}
	var target *cell
	var want value.Type
	switch {
	case field == "" && !top.typ.IsTable() && !top.typ.IsField():
		target, want = &top.cell, top.typ
	case field != "" && top.typ.IsTable():
		fi := top.fieldIndex(field)
		if fi < 0 {
			return protocol.CodeInvalidField
		}
		if row >= uint64(len(top.rows)) {
			return protocol.CodeInvalidRow
		}
		target, want = &top.rows[row][fi], top.fields[fi].Type
	case field != "":
		return protocol.CodeInvalidField
	default:
		return protocol.CodeTypeMismatch
	}
	if typ != want {
		return protocol.CodeTypeMismatch
	}

	switch {
	case typ.IsArray():
		return writeArray(cur, typ.Elem(), target)
	case typ.IsText():
		return writeText(cur, target)
	default:
		text, err := cur.Text()
		if err != nil {
			return protocol.CodeInvalidArgs
		}
		if _, err := value.DecodeText(typ, text); err != nil {
			return protocol.CodeTypeMismatch
		}
		*target = cell{null: text == "", text: []rune(text)}
		return protocol.CodeOK
	}
}

func writeText(cur *wire.Cursor, target *cell) protocol.Code {
	off, err := cur.U64()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	chunk, err := cur.Text()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	if target.null {
		*target = cell{}
	}
	if off > uint64(len(target.text)) {
		return protocol.CodeInvalidTextOffset
	}
	target.text = append(target.text[:off], []rune(chunk)...)
	return protocol.CodeOK
}

func writeArray(cur *wire.Cursor, elem value.Type, target *cell) protocol.Code {
	off, err := cur.U64()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	n, err := cur.U16()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	if target.null {
		*target = cell{}
	}
	if off > uint64(len(target.elems)) {
		return protocol.CodeInvalidArrayOffset
	}
	elems := target.elems[:off]
	for i := 0; i < int(n); i++ {
		text, err := cur.Text()
		if err != nil {
			return protocol.CodeInvalidArgs
		}
		if _, err := value.DecodeText(elem, text); err != nil {
			return protocol.CodeTypeMismatch
		}
		elems = append(elems, text)
	}
	target.elems = elems
	return protocol.CodeOK
}

// read answers READ_STACK for the top of the stack.
func (s *stack) read(cur *wire.Cursor, w *wire.Writer, runLimit int) protocol.Code {
	field, err := cur.Text()
	if err != nil {
		return protocol.CodeInvalidArgs
	}
	var hint [3]uint64
	for i := range hint {
		if hint[i], err = cur.U64(); err != nil {
			return protocol.CodeInvalidArgs
		}
	}
	row, arrOff, textOff := hint[0], hint[1], hint[2]

	top := s.top()
	if top == nil {
		return protocol.CodeInvalidArgs
	}
	switch {
	case top.typ.IsTable() && field == "":
		return writeTableHeader(w, top)
	case top.typ.IsTable():
		fi := top.fieldIndex(field)
		if fi < 0 {
			return protocol.CodeInvalidField
		}
		return writeRun(w, top.fields[fi].Type, top.rows, fi, row, arrOff, textOff, runLimit)
	case top.typ.IsField():
		if field != "" {
			return protocol.CodeInvalidField
		}
		return writeRun(w, top.typ.CellType(), top.rows, 0, row, arrOff, textOff, runLimit)
	case field != "":
		return protocol.CodeInvalidField
	}
	_ = w.PutU32(uint32(protocol.CodeOK))
	_ = w.PutU16(uint16(top.typ))
	_, fits, code := writeCell(w, top.typ, top.cell, arrOff, textOff)
	if code != protocol.CodeOK {
		return code
	}
	if !fits {
		return protocol.CodeLargeResponse
	}
	return protocol.CodeOK
}

func writeTableHeader(w *wire.Writer, e *entry) protocol.Code {
	_ = w.PutU32(uint32(protocol.CodeOK))
	_ = w.PutU16(uint16(value.TypeTable))
	_ = w.PutU64(uint64(len(e.rows)))
	if err := w.PutU16(uint16(len(e.fields))); err != nil {
		return protocol.CodeLargeResponse
	}
	for _, f := range e.fields {
		if err := w.PutCString([]byte(f.Name)); err != nil {
			return protocol.CodeLargeResponse
		}
		if err := w.PutU16(uint16(f.Type)); err != nil {
			return protocol.CodeLargeResponse
		}
	}
	return protocol.CodeOK
}

// writeRun writes records for column fi starting at row until the frame, the run limit or
// the column ends. Only the first record honours the offsets.
func writeRun(w *wire.Writer, typ value.Type, rows [][]cell, fi int, row, arrOff, textOff uint64, runLimit int) protocol.Code {
	if row == protocol.Ignore {
		row = 0
	}
	if row > uint64(len(rows)) || (row == uint64(len(rows)) && len(rows) > 0) {
		return protocol.CodeInvalidRow
	}
	_ = w.PutU32(uint32(protocol.CodeOK))
	_ = w.PutU16(uint16(typ | value.FlagField))
	_ = w.PutU64(uint64(len(rows)))
	records := 0
	for r := row; r < uint64(len(rows)); r++ {
		if runLimit > 0 && records >= runLimit {
			break
		}
		mark := w.Pos()
		if err := w.PutU64(r); err != nil {
			break
		}
		complete, fits, code := writeCell(w, typ, rows[r][fi], arrOff, textOff)
		if code != protocol.CodeOK {
			return code
		}
		if !fits {
			w.Truncate(mark)
			break
		}
		records++
		arrOff, textOff = protocol.Ignore, protocol.Ignore
		if !complete {
			break
		}
	}
	if records == 0 && row < uint64(len(rows)) {
		return protocol.CodeLargeResponse
	}
	return protocol.CodeOK
}

// writeCell writes as much of c as fits. complete is false when a text or array was cut
// short; fits is false when not even a minimal piece fits.
func writeCell(w *wire.Writer, typ value.Type, c cell, arrOff, textOff uint64) (complete, fits bool, code protocol.Code) {
	mark := w.Pos()
	fail := func() (bool, bool, protocol.Code) {
		w.Truncate(mark)
		return false, false, protocol.CodeOK
	}
	switch {
	case typ.IsArray():
		if arrOff == protocol.Ignore {
			arrOff = 0
		}
		if c.null {
			if w.PutU64(protocol.Ignore) != nil || w.PutU64(0) != nil || w.PutU16(0) != nil {
				return fail()
			}
			return true, true, protocol.CodeOK
		}
		total := uint64(len(c.elems))
		if arrOff > total {
			return false, false, protocol.CodeInvalidArrayOffset
		}
		room := w.Room() - 8 - 8 - 2
		if room < 0 {
			return fail()
		}
		n, size := 0, 0
		for i := arrOff; i < total && n < 0xFFFF; i++ {
			l := len(c.elems[i]) + 1
			if size+l > room {
				break
			}
			size += l
			n++
		}
		if n == 0 && arrOff < total {
			return fail()
		}
		_ = w.PutU64(total)
		_ = w.PutU64(arrOff)
		_ = w.PutU16(uint16(n))
		for i := arrOff; i < arrOff+uint64(n); i++ {
			_ = w.PutCString([]byte(c.elems[i]))
		}
		return arrOff+uint64(n) == total, true, protocol.CodeOK
	case typ.IsText():
		if textOff == protocol.Ignore {
			textOff = 0
		}
		if c.null {
			if w.PutU64(protocol.Ignore) != nil || w.PutU64(0) != nil || w.PutCString(nil) != nil {
				return fail()
			}
			return true, true, protocol.CodeOK
		}
		total := uint64(len(c.text))
		if textOff > total {
			return false, false, protocol.CodeInvalidTextOffset
		}
		room := w.Room() - 8 - 8 - 1
		if room < 0 {
			return fail()
		}
		n, size := 0, 0
		for i := textOff; i < total; i++ {
			l := utf8.RuneLen(c.text[i])
			if size+l > room {
				break
			}
			size += l
			n++
		}
		if n == 0 && textOff < total {
			return fail()
		}
		_ = w.PutU64(total)
		_ = w.PutU64(textOff)
		_ = w.PutCString([]byte(string(c.text[textOff : textOff+uint64(n)])))
		return textOff+uint64(n) == total, true, protocol.CodeOK
	default:
		text := ""
		if !c.null {
			text = string(c.text)
		}
		if w.PutCString([]byte(text)) != nil {
			return fail()
		}
		return true, true, protocol.CodeOK
	}
}
