package protocol

// Frame types carried in the header type byte.
const (
	FrameNormal       uint8 = 0x01
	FrameAuth         uint8 = 0x02
	FrameAuthResponse uint8 = 0x03
	FrameTimeout      uint8 = 0xFD
	FrameOutOfSync    uint8 = 0xFE
	FrameServerBusy   uint8 = 0xFF
)

// Cipher tags negotiated during the handshake.
const (
	CipherPlain      uint8 = 0x01
	CipherThreeKings uint8 = 0x02
	CipherDES        uint8 = 0x04
	CipherTripleDES  uint8 = 0x08
)

// Protocol version bits. The client sends the lowest bit shared with the server.
const (
	ProtocolV1        uint32 = 0x00000001
	SupportedVersions uint32 = ProtocolV1
)

// Frame size bounds enforced on both sides of the handshake.
const (
	MinFrameSize     = 512
	MaxFrameSize     = 0xFFFF
	DefaultFrameSize = 4096
)

// User ids sent in the auth response.
const (
	UserRoot    uint8 = 0
	UserRegular uint8 = 1
)

// Command tags. Requests are even, the matching response is request+1.
const (
	CmdListGlobals        uint16 = 0x0002
	CmdListProcedures     uint16 = 0x0004
	CmdDescribeProcParams uint16 = 0x0006
	CmdCloseConn          uint16 = 0x0008
	CmdDescribeGlobal     uint16 = 0x000A
	CmdReadStack          uint16 = 0x000C
	CmdUpdateStack        uint16 = 0x000E
	CmdExecProc           uint16 = 0x0010
	CmdPingServer         uint16 = 0x0012
	CmdInvalid            uint16 = 0xFFFF
)

// Response returns the response tag for a request tag.
func Response(cmd uint16) uint16 { return cmd + 1 }

// IsRequest reports whether cmd is a request tag (even and valid).
func IsRequest(cmd uint16) bool { return cmd != CmdInvalid && cmd&1 == 0 }

var commandNames = map[uint16]string{
	CmdListGlobals:        "list_globals",
	CmdListProcedures:     "list_procedures",
	CmdDescribeProcParams: "describe_proc_params",
	CmdCloseConn:          "close_conn",
	CmdDescribeGlobal:     "describe_global",
	CmdReadStack:          "read_stack",
	CmdUpdateStack:        "update_stack",
	CmdExecProc:           "exec_proc",
	CmdPingServer:         "ping_server",
}

// CommandName returns a stable label for cmd, folding responses onto their request.
func CommandName(cmd uint16) string {
	if cmd == CmdInvalid {
		return "invalid"
	}
	if name, ok := commandNames[cmd&^1]; ok {
		return name
	}
	return "unknown"
}

// Update-stack sub-command opcodes.
const (
	SubPop       uint8 = 1
	SubPush      uint8 = 2
	SubChangeTop uint8 = 3
	SubTableRows uint8 = 4
)

// PopAll asks the server to clear the whole stack.
const PopAll int32 = -1

// Ignore marks an unused cursor component (row, array offset, text offset).
const Ignore uint64 = ^uint64(0)

// Command metadata shared by every cipher: client cookie, server cookie, command tag, checksum.
const (
	CommandMetaSize    = 12
	ClientCookieOffset = 0
	ServerCookieOffset = 4
	CommandTagOffset   = 8
	ChecksumOffset     = 10
)

// Handshake body layouts, relative to the end of the frame header.
const (
	AuthBodySize         = 7
	AuthResponseBodySize = 8
)
