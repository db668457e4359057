package stackserver

import (
	"bytes"
	"encoding/binary"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/value"
)

// rewritePayload applies a payload fault to an OK response in place. It reports false when
// the response has nothing the fault targets.
func rewritePayload(f Fault, req Request, p []byte) bool {
	if len(p) < 4 || protocol.Code(binary.LittleEndian.Uint32(p)) != protocol.CodeOK {
		return false
	}
	switch req.Command {
	case protocol.CmdListGlobals, protocol.CmdListProcedures, protocol.CmdDescribeGlobal, protocol.CmdDescribeProcParams:
		return rewritePage(f, p)
	case protocol.CmdReadStack:
		return rewriteRead(f, req.Payload, p)
	}
	return false
}

// rewritePage targets the (count u32, index u32) echo after the status.
func rewritePage(f Fault, p []byte) bool {
	if len(p) < 12 {
		return false
	}
	switch f {
	case FaultPageIndex:
		bump32(p[8:])
	case FaultPageCount:
		if binary.LittleEndian.Uint32(p[8:]) == 0 {
			return false
		}
		bump32(p[4:])
	default:
		return false
	}
	return true
}

func rewriteRead(f Fault, reqPayload, p []byte) bool {
	if len(p) < 6 {
		return false
	}
	typ := value.Type(binary.LittleEndian.Uint16(p[4:]))
	row, resumed, ok := readHint(reqPayload)
	if !ok {
		return false
	}
	if !typ.IsField() {
		if typ.IsTable() {
			return false
		}
		switch f {
		case FaultTopType:
			if !resumed {
				return false
			}
			binary.LittleEndian.PutUint16(p[4:], uint16(typ)+1)
			return true
		case FaultTopOffset:
			if (!typ.IsText() && !typ.IsArray()) || len(p) < 22 {
				return false
			}
			bump64(p[14:])
			return true
		}
		return false
	}

	// Field runs: type u16, rows u64, then records of (row u64, cell) from offset 14.
	if len(p) < 22 {
		return false
	}
	switch f {
	case FaultRunRows:
		if row == protocol.Ignore || row == 0 {
			return false
		}
		bump64(p[6:])
	case FaultFirstRow:
		bump64(p[14:])
	case FaultResumeRow:
		if !resumed {
			return false
		}
		bump64(p[14:])
	case FaultSecondRow:
		next, ok := recordEnd(p, 14, typ.CellType())
		if !ok || len(p) < next+8 {
			return false
		}
		bump64(p[next:])
	default:
		return false
	}
	return true
}

// readHint decodes the row of a READ_STACK request and whether it resumes a cell.
func readHint(req []byte) (row uint64, resumed, ok bool) {
	nul := bytes.IndexByte(req, 0)
	if nul < 0 || len(req) < nul+1+24 {
		return 0, false, false
	}
	hint := req[nul+1:]
	row = binary.LittleEndian.Uint64(hint)
	arrOff := binary.LittleEndian.Uint64(hint[8:])
	textOff := binary.LittleEndian.Uint64(hint[16:])
	return row, arrOff != protocol.Ignore || textOff != protocol.Ignore, true
}

// recordEnd returns the offset just past the record starting at pos.
func recordEnd(p []byte, pos int, typ value.Type) (int, bool) {
	pos += 8
	cstring := func() bool {
		if pos > len(p) {
			return false
		}
		n := bytes.IndexByte(p[pos:], 0)
		if n < 0 {
			return false
		}
		pos += n + 1
		return true
	}
	switch {
	case typ.IsText():
		pos += 16
		if !cstring() {
			return 0, false
		}
	case typ.IsArray():
		pos += 16
		if len(p) < pos+2 {
			return 0, false
		}
		n := int(binary.LittleEndian.Uint16(p[pos:]))
		pos += 2
		for i := 0; i < n; i++ {
			if !cstring() {
				return 0, false
			}
		}
	default:
		if !cstring() {
			return 0, false
		}
	}
	return pos, true
}

func bump32(b []byte) { binary.LittleEndian.PutUint32(b, binary.LittleEndian.Uint32(b)+1) }

func bump64(b []byte) { binary.LittleEndian.PutUint64(b, binary.LittleEndian.Uint64(b)+1) }
