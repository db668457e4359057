package stack

import (
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
)

// outcome of appending one sub-command to the pending batch.
type outcome int

const (
	written outcome = iota
	needsFlush
)

func argError(op string, err error) error {
	var pe *protocol.Error
	switch {
	case errors.As(err, &pe):
		return err
	case errors.Is(err, wire.ErrNoRoom):
		return protocol.Wrap(protocol.CodeLargeArgs, op+" does not fit a frame", err)
	case errors.Is(err, wire.ErrEmbeddedNUL):
		return protocol.Wrap(protocol.CodeInvalidArgs, op, err)
	}
	return protocol.Wrap(protocol.CodeGeneralError, op, err)
}

// tryAppend writes one sub-command after the buffered ones. Nothing is committed unless
// put succeeds.
func (c *Conn) tryAppend(put func(w *wire.Writer) error) (outcome, error) {
	if err := c.s.SetPending(protocol.CmdUpdateStack); err != nil {
		return written, err
	}
	w := c.s.Writer()
	if err := put(w); err != nil {
		if errors.Is(err, wire.ErrNoRoom) {
			return needsFlush, nil
		}
		return written, argError("update_stack", err)
	}
	c.s.MarkValid(w.Pos())
	return written, nil
}

// appendSub buffers one sub-command, flushing once when the frame is full. A sub-command
// that does not fit an empty frame fails with LargeArgs.
func (c *Conn) appendSub(put func(w *wire.Writer) error) error {
	out, err := c.tryAppend(put)
	if err != nil || out == written {
		return err
	}
	if c.s.LastValid() == 0 {
		c.s.Discard()
		return protocol.Errorf(protocol.CodeLargeArgs, "update does not fit an empty frame")
	}
	if err := c.Flush(); err != nil {
		return err
	}
	out, err = c.tryAppend(put)
	if err != nil {
		return err
	}
	if out == needsFlush {
		c.s.Discard()
		return protocol.Errorf(protocol.CodeLargeArgs, "update does not fit an empty frame")
	}
	return nil
}

// Flush sends the buffered updates and reports the batch status. The server applies
// sub-commands in order and stops at the first failure.
func (c *Conn) Flush() error {
	if c.s.Pending() != protocol.CmdUpdateStack {
		return nil
	}
	if c.s.LastValid() == 0 {
		c.s.Discard()
		return nil
	}
	n := c.s.LastValid()
	if _, err := c.roundTrip(protocol.CmdUpdateStack, nil); err != nil {
		return err
	}
	c.s.Discard()
	c.log.Debug().Int("bytes", n).Msg("stack updates flushed")
	return nil
}

// Pop removes count values from the top of the stack.
func (c *Conn) Pop(count int) error {
	if count < 0 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "negative pop count %d", count)
	}
	if count == 0 {
		return nil
	}
	if count > math.MaxInt32 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "pop count %d exceeds %d", count, math.MaxInt32)
	}
	return c.appendSub(func(w *wire.Writer) error {
		if err := w.PutU8(protocol.SubPop); err != nil {
			return err
		}
		return w.PutI32(int32(count))
	})
}

// PopAll clears the stack.
func (c *Conn) PopAll() error {
	return c.appendSub(func(w *wire.Writer) error {
		if err := w.PutU8(protocol.SubPop); err != nil {
			return err
		}
		return w.PutI32(protocol.PopAll)
	})
}

// PushType pushes a null value of desc. Tables carry their field list.
func (c *Conn) PushType(desc value.Desc) error {
	if !desc.Type.Valid() || desc.Type.IsField() {
		return protocol.Errorf(protocol.CodeTypeMismatch, "cannot push %s", desc.Type)
	}
	if desc.Type.IsTable() {
		if _, err := value.TableOf(&value.Table{Fields: desc.Fields}); err != nil {
			return err
		}
	}
	return c.appendSub(func(w *wire.Writer) error {
		if err := w.PutU8(protocol.SubPush); err != nil {
			return err
		}
		if err := w.PutU16(uint16(desc.Type)); err != nil {
			return err
		}
		if !desc.Type.IsTable() {
			return nil
		}
		if err := w.PutU16(uint16(len(desc.Fields))); err != nil {
			return err
		}
		for _, f := range desc.Fields {
			if err := w.PutCString([]byte(f.Name)); err != nil {
				return err
			}
			if err := w.PutU16(uint16(f.Type)); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddRows appends n null rows to the table on top.
func (c *Conn) AddRows(n uint64) error {
	if n == 0 {
		return nil
	}
	return c.appendSub(func(w *wire.Writer) error {
		if err := w.PutU8(protocol.SubTableRows); err != nil {
			return err
		}
		return w.PutU64(n)
	})
}

// PushValue pushes v. Tables expand into a typed push, row allocation and one update per
// non-null cell.
func (c *Conn) PushValue(v value.Value) error {
	typ := v.Type()
	switch {
	case typ.IsField():
		return protocol.Errorf(protocol.CodeTypeMismatch, "a table field cannot be pushed on its own")
	case typ.IsTable():
		tbl := v.Table()
		if err := c.PushType(value.Desc{Type: typ, Fields: tbl.Fields}); err != nil {
			return err
		}
		if err := c.AddRows(uint64(len(tbl.Rows))); err != nil {
			return err
		}
		for r, row := range tbl.Rows {
			for i, cell := range row {
				if cell.IsNull() {
					continue
				}
				if err := c.UpdateCell(tbl.Fields[i].Name, uint64(r), cell); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := c.PushType(value.Desc{Type: typ}); err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	return c.UpdateTop(v)
}

// UpdateTop replaces the scalar, text or array on top of the stack. Null values are
// rejected; a freshly pushed value or added row is already null.
func (c *Conn) UpdateTop(v value.Value) error {
	return c.change("", protocol.Ignore, v)
}

// UpdateCell replaces the cell at row of the named field of the table on top.
func (c *Conn) UpdateCell(field string, row uint64, v value.Value) error {
	if field == "" {
		return protocol.Errorf(protocol.CodeInvalidField, "cell update needs a field name")
	}
	return c.change(field, row, v)
}

// change writes v as one or more CHANGE_TOP sub-commands. Text and arrays are split in
// chunks at increasing offsets.
func (c *Conn) change(field string, row uint64, v value.Value) error {
	if v.IsNull() {
		return protocol.Errorf(protocol.CodeInvalidArgs, "cannot write a null %s, nulls come from push and add rows", v.Type())
	}
	if strings.IndexByte(field, 0) >= 0 {
		return protocol.Errorf(protocol.CodeInvalidField, "field name contains NUL")
	}
	typ := v.Type()
	head := func(w *wire.Writer) error {
		if err := w.PutU8(protocol.SubChangeTop); err != nil {
			return err
		}
		if err := w.PutCString([]byte(field)); err != nil {
			return err
		}
		if err := w.PutU64(row); err != nil {
			return err
		}
		return w.PutU16(uint16(typ))
	}
	switch {
	case typ.IsArray():
		return c.changeArray(head, v)
	case typ.IsText():
		s, _ := v.AsText()
		return c.changeText(head, s)
	case typ.IsBasic():
		s, err := value.EncodeText(v)
		if err != nil {
			return err
		}
		return c.appendSub(func(w *wire.Writer) error {
			if err := head(w); err != nil {
				return err
			}
			return w.PutCString([]byte(s))
		})
	}
	return protocol.Errorf(protocol.CodeTypeMismatch, "cannot write %s into a cell", typ)
}

func (c *Conn) changeText(head func(*wire.Writer) error, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "text contains NUL")
	}
	runes := []rune(s)
	done := 0
	for first := true; first || done < len(runes); first = false {
		var n int
		err := c.appendSub(func(w *wire.Writer) error {
			if err := head(w); err != nil {
				return err
			}
			if err := w.PutU64(uint64(done)); err != nil {
				return err
			}
			n = fitRunes(runes[done:], w.Room()-1)
			if n == 0 && done < len(runes) {
				return wire.ErrNoRoom
			}
			return w.PutCString([]byte(string(runes[done : done+n])))
		})
		if err != nil {
			return err
		}
		done += n
	}
	return nil
}

// fitRunes counts how many leading runes encode within room bytes.
func fitRunes(runes []rune, room int) int {
	size := 0
	for i, r := range runes {
		size += utf8.RuneLen(r)
		if size > room {
			return i
		}
	}
	return len(runes)
}

func (c *Conn) changeArray(head func(*wire.Writer) error, v value.Value) error {
	elems := make([]string, len(v.Elems()))
	for i, e := range v.Elems() {
		s, err := value.EncodeText(e)
		if err != nil {
			return err
		}
		if strings.IndexByte(s, 0) >= 0 {
			return protocol.Errorf(protocol.CodeInvalidArgs, "array element %d contains NUL", i)
		}
		elems[i] = s
	}
	done := 0
	for first := true; first || done < len(elems); first = false {
		var n int
		err := c.appendSub(func(w *wire.Writer) error {
			if err := head(w); err != nil {
				return err
			}
			if err := w.PutU64(uint64(done)); err != nil {
				return err
			}
			room := w.Room() - 2
			if room < 0 {
				return wire.ErrNoRoom
			}
			n = 0
			for size := 0; done+n < len(elems) && n < 0xFFFF; n++ {
				size += wire.CStringSize(elems[done+n])
				if size > room {
					break
				}
			}
			if n == 0 && done < len(elems) {
				return wire.ErrNoRoom
			}
			if err := w.PutU16(uint16(n)); err != nil {
				return err
			}
			for _, s := range elems[done : done+n] {
				if err := w.PutCString([]byte(s)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		done += n
	}
	return nil
}
