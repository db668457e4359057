// Package wire provides explicit position-tracking cursors over frame payloads.
//
// All multi-byte integers are little-endian. Strings are NUL-terminated.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShort        = errors.New("wire: short payload")
	ErrUnterminated = errors.New("wire: unterminated string")
	ErrNoRoom       = errors.New("wire: no room in buffer")
	ErrEmbeddedNUL  = errors.New("wire: string contains NUL")
)

// Cursor reads fields sequentially from a payload. A failed read does not advance.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

func (c *Cursor) Pos() int       { return c.pos }
func (c *Cursor) Len() int       { return len(c.buf) }
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }
func (c *Cursor) Done() bool     { return c.pos >= len(c.buf) }

// Seek moves the cursor to an absolute position inside the payload.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return fmt.Errorf("%w: seek %d of %d", ErrShort, pos, len(c.buf))
	}
	c.pos = pos
	return nil
}

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return fmt.Errorf("%w: need %d have %d", ErrShort, n, c.Remaining())
	}
	return nil
}

func (c *Cursor) U8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *Cursor) U16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *Cursor) U32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

func (c *Cursor) U64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

// CString returns the bytes up to the next NUL and moves past the terminator.
// The returned slice aliases the payload.
func (c *Cursor) CString() ([]byte, error) {
	idx := bytes.IndexByte(c.buf[c.pos:], 0)
	if idx < 0 {
		return nil, fmt.Errorf("%w at %d", ErrUnterminated, c.pos)
	}
	s := c.buf[c.pos : c.pos+idx]
	c.pos += idx + 1
	return s, nil
}

func (c *Cursor) Text() (string, error) {
	s, err := c.CString()
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// Writer appends fields into a fixed-capacity buffer. A failed write leaves the buffer untouched.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter writes into buf starting at pos.
func NewWriter(buf []byte, pos int) *Writer {
	return &Writer{buf: buf, pos: pos}
}

func (w *Writer) Pos() int        { return w.pos }
func (w *Writer) Room() int       { return len(w.buf) - w.pos }
func (w *Writer) Fits(n int) bool { return w.Room() >= n }

// Truncate rewinds the writer to pos, dropping anything written after it.
func (w *Writer) Truncate(pos int) {
	if pos >= 0 && pos <= w.pos {
		w.pos = pos
	}
}

func (w *Writer) room(n int) error {
	if !w.Fits(n) {
		return fmt.Errorf("%w: need %d have %d", ErrNoRoom, n, w.Room())
	}
	return nil
}

func (w *Writer) PutU8(v uint8) error {
	if err := w.room(1); err != nil {
		return err
	}
	w.buf[w.pos] = v
	w.pos++
	return nil
}

func (w *Writer) PutU16(v uint16) error {
	if err := w.room(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
	return nil
}

func (w *Writer) PutU32(v uint32) error {
	if err := w.room(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
	return nil
}

func (w *Writer) PutI32(v int32) error { return w.PutU32(uint32(v)) }

func (w *Writer) PutU64(v uint64) error {
	if err := w.room(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
	return nil
}

func (w *Writer) PutBytes(b []byte) error {
	if err := w.room(len(b)); err != nil {
		return err
	}
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
	return nil
}

// PutCString writes s followed by a NUL terminator.
func (w *Writer) PutCString(s []byte) error {
	if bytes.IndexByte(s, 0) >= 0 {
		return ErrEmbeddedNUL
	}
	if err := w.room(len(s) + 1); err != nil {
		return err
	}
	copy(w.buf[w.pos:], s)
	w.buf[w.pos+len(s)] = 0
	w.pos += len(s) + 1
	return nil
}

// CStringSize is the encoded size of s including its terminator.
func CStringSize(s string) int { return len(s) + 1 }
