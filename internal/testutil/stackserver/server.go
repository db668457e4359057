// Package stackserver is an in-process stack server speaking the server side of the
// framed protocol. Tests use it to drive sessions end to end.
package stackserver

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/stackwire/internal/auth"
	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/cipher"
	"github.com/danmuck/stackwire/internal/protocol/frame"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
	"github.com/rs/zerolog/log"
)

// Options shapes what the server offers at handshake and how it pages responses.
type Options struct {
	Versions  uint32
	FrameSize uint16
	Cipher    uint8
	// Key is the shared secret for encrypted ciphers and the expected plain credential.
	Key []byte
	// Validator checks plain credentials instead of Key when set.
	Validator auth.Validator
	Database  string
	// PageLimit caps listing entries per response; RunLimit caps cell records per read
	// response. Zero fills the frame.
	PageLimit int
	RunLimit  int
}

func (o Options) withDefaults() Options {
	if o.Versions == 0 {
		o.Versions = protocol.SupportedVersions
	}
	if o.FrameSize == 0 {
		o.FrameSize = protocol.DefaultFrameSize
	}
	if o.Cipher == 0 {
		o.Cipher = protocol.CipherPlain
	}
	return o
}

// Fault corrupts the next response in one specific way.
type Fault int

const (
	FaultNone Fault = iota
	FaultChecksum
	FaultClientCookie
	FaultFrameID
	FaultResponseTag
	FaultServerBusy
	FaultTimeout
	FaultOutOfSync
	FaultHangUp

	// Payload faults rewrite an echoed field of the next response they apply to. The fault
	// stays armed across responses it does not apply to.
	FaultPageIndex
	FaultPageCount
	FaultTopType
	FaultTopOffset
	FaultRunRows
	FaultFirstRow
	FaultSecondRow
	FaultResumeRow
)

func (f Fault) rewritesPayload() bool { return f >= FaultPageIndex }

// Auth is what the server learned from the auth response.
type Auth struct {
	Version    uint32
	User       uint8
	Cipher     uint8
	FrameSize  uint16
	Database   string
	Credential []byte
}

// Request is one decoded command frame.
type Request struct {
	ID           uint32
	ClientCookie uint32
	ServerCookie uint32
	Command      uint16
	Payload      []byte
}

// Response is what the server answered, before ciphering.
type Response struct {
	ClientCookie uint32
	Payload      []byte
}

// Server accepts sessions and serves one shared stack per connection.
type Server struct {
	opts Options
	ln   net.Listener

	mu        sync.Mutex
	globals   []global
	procs     map[string]Procedure
	auths     []Auth
	requests  []Request
	responses []Response
	stacks    []*stack
	fault     Fault
	wg        sync.WaitGroup
}

type global struct {
	name string
	desc value.Desc
}

func New(opts Options) *Server {
	return &Server{opts: opts.withDefaults(), procs: make(map[string]Procedure)}
}

// Start listens on a loopback port and closes the server when tb finishes.
func Start(tb testing.TB, opts Options) *Server {
	tb.Helper()
	s := New(opts)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Close() error {
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// AddGlobal registers a named global with its description.
func (s *Server) AddGlobal(name string, desc value.Desc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals = append(s.globals, global{name: name, desc: desc})
}

func (s *Server) AddProcedure(p Procedure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[p.Name] = p
}

// InjectFault corrupts the next response only.
func (s *Server) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *Server) Auths() []Auth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Auth(nil), s.auths...)
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) Responses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Response(nil), s.responses...)
}

// Stack snapshots the stack of the most recent connection, bottom first.
func (s *Server) Stack() []value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stacks) == 0 {
		return nil
	}
	st := s.stacks[len(s.stacks)-1]
	out := make([]value.Value, 0, len(st.entries))
	for _, e := range st.entries {
		v, err := e.toValue()
		if err != nil {
			v = value.Null(e.typ)
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) takeFault() Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.fault
	s.fault = FaultNone
	return f
}

// conn is the per-connection protocol state.
type conn struct {
	srv    *Server
	nc     net.Conn
	cipher cipher.Cipher
	buf    []byte
	stack  *stack
	rng    *rand.Rand
}

// ServeConn runs the handshake and the command loop until the peer goes away.
func (s *Server) ServeConn(nc net.Conn) {
	defer nc.Close()
	c := &conn{srv: s, nc: nc, stack: &stack{}, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := c.handshake(); err != nil {
		log.Debug().Err(err).Msg("stackserver handshake failed")
		return
	}
	s.mu.Lock()
	s.stacks = append(s.stacks, c.stack)
	s.mu.Unlock()
	for {
		if err := c.serveOne(); err != nil {
			if !errors.Is(err, errHangUp) {
				log.Debug().Err(err).Msg("stackserver connection done")
			}
			return
		}
	}
}

var errHangUp = errors.New("stackserver: hang up")

func (c *conn) handshake() error {
	o := c.srv.opts
	out := make([]byte, frame.HeaderLen+protocol.AuthBodySize)
	w := wire.NewWriter(out, frame.HeaderLen)
	_ = w.PutU32(o.Versions)
	_ = w.PutU16(o.FrameSize)
	_ = w.PutU8(o.Cipher)
	frame.EncodeHeader(out, frame.Header{Size: uint16(len(out)), Type: protocol.FrameAuth, Cipher: o.Cipher})
	if err := frame.WriteFrame(c.nc, out); err != nil {
		return err
	}

	in := make([]byte, protocol.MaxFrameSize)
	h, err := frame.ReadFrame(c.nc, in)
	if err != nil {
		return err
	}
	if h.Type != protocol.FrameAuthResponse {
		return errors.New("stackserver: expected auth response")
	}
	cur := wire.NewCursor(in[frame.HeaderLen:h.Size])
	var a Auth
	a.Version, _ = cur.U32()
	a.User, _ = cur.U8()
	a.Cipher, _ = cur.U8()
	a.FrameSize, err = cur.U16()
	if err != nil {
		return err
	}
	db, err := cur.Text()
	if err != nil {
		return err
	}
	a.Database = db
	if !cur.Done() {
		cred, err := cur.CString()
		if err != nil {
			return err
		}
		a.Credential = append([]byte{}, cred...)
	}
	c.srv.mu.Lock()
	c.srv.auths = append(c.srv.auths, a)
	c.srv.mu.Unlock()

	if a.Cipher != o.Cipher || a.FrameSize > max(o.FrameSize, protocol.MinFrameSize) || a.FrameSize < protocol.MinFrameSize {
		return errors.New("stackserver: auth response does not match the offer")
	}
	if o.Database != "" && a.Database != o.Database {
		return errors.New("stackserver: unknown database")
	}
	if a.Cipher == protocol.CipherPlain {
		v := o.Validator
		if v == nil && o.Key != nil {
			v = auth.StaticToken(o.Key)
		}
		if v != nil {
			if err := v.Validate(a.Credential); err != nil {
				return err
			}
		}
	}
	ci, err := cipher.New(a.Cipher, o.Key)
	if err != nil {
		return err
	}
	c.cipher = ci
	c.buf = make([]byte, a.FrameSize)
	return nil
}

func (c *conn) capacity() int {
	return len(c.buf) - c.cipher.Padding() - c.cipher.MetadataSize()
}

func (c *conn) serveOne() error {
	h, err := frame.ReadFrame(c.nc, c.buf)
	if err != nil {
		return err
	}
	size, err := c.cipher.Decode(c.buf, int(h.Size))
	if err != nil {
		return err
	}
	meta := c.cipher.MetadataSize()
	cm := c.buf[c.cipher.CommandOffset():meta]
	req := Request{
		ID:           h.ID,
		ClientCookie: binary.LittleEndian.Uint32(cm[protocol.ClientCookieOffset:]),
		ServerCookie: binary.LittleEndian.Uint32(cm[protocol.ServerCookieOffset:]),
		Command:      binary.LittleEndian.Uint16(cm[protocol.CommandTagOffset:]),
		Payload:      append([]byte(nil), c.buf[meta:size]...),
	}
	if !frame.VerifyChecksum(binary.LittleEndian.Uint16(cm[protocol.ChecksumOffset:]), req.Payload) {
		return errors.New("stackserver: request checksum mismatch")
	}
	if req.Command == protocol.CmdCloseConn {
		c.srv.mu.Lock()
		c.srv.requests = append(c.srv.requests, req)
		c.srv.mu.Unlock()
		return errHangUp
	}
	out := wire.NewWriter(c.buf[:meta+c.capacity()], meta)
	c.srv.mu.Lock()
	c.srv.requests = append(c.srv.requests, req)
	c.dispatch(req, out)
	c.srv.mu.Unlock()
	return c.reply(req, out.Pos())
}

// dispatch runs with srv.mu held.
func (c *conn) dispatch(req Request, w *wire.Writer) {
	cur := wire.NewCursor(req.Payload)
	var code protocol.Code
	switch req.Command {
	case protocol.CmdPingServer:
		_ = w.PutU32(uint32(protocol.CodeOK))
		return
	case protocol.CmdListGlobals:
		code = c.listGlobals(cur, w)
	case protocol.CmdListProcedures:
		code = c.listProcedures(cur, w)
	case protocol.CmdDescribeGlobal:
		code = c.describeGlobal(cur, w)
	case protocol.CmdDescribeProcParams:
		code = c.describeProc(cur, w)
	case protocol.CmdUpdateStack:
		code = c.stack.update(cur)
		if code == protocol.CodeOK {
			_ = w.PutU32(uint32(protocol.CodeOK))
		}
	case protocol.CmdExecProc:
		code = c.exec(cur)
		if code == protocol.CodeOK {
			_ = w.PutU32(uint32(protocol.CodeOK))
		}
	case protocol.CmdReadStack:
		code = c.stack.read(cur, w, c.srv.opts.RunLimit)
	default:
		code = protocol.CodeOpNotSupported
	}
	if code != protocol.CodeOK {
		w.Truncate(c.cipher.MetadataSize())
		_ = w.PutU32(uint32(code))
	}
}

func (c *conn) reply(req Request, end int) error {
	meta := c.cipher.MetadataSize()
	payload := c.buf[meta:end]
	fault := c.srv.takeFault()
	if fault.rewritesPayload() {
		if !rewritePayload(fault, req, payload) {
			c.srv.InjectFault(fault)
		}
		fault = FaultNone
	}
	c.srv.mu.Lock()
	c.srv.responses = append(c.srv.responses, Response{ClientCookie: req.ClientCookie, Payload: append([]byte(nil), payload...)})
	c.srv.mu.Unlock()

	id := req.ID + 1
	typ := protocol.FrameNormal
	cookie := req.ClientCookie
	tag := protocol.Response(req.Command)
	sum := frame.Checksum(payload)
	switch fault {
	case FaultChecksum:
		sum++
	case FaultClientCookie:
		cookie++
	case FaultFrameID:
		id += 7
	case FaultResponseTag:
		tag = protocol.Response(protocol.CmdPingServer)
		if req.Command == protocol.CmdPingServer {
			tag = protocol.Response(protocol.CmdListGlobals)
		}
	case FaultServerBusy:
		typ = protocol.FrameServerBusy
	case FaultTimeout:
		typ = protocol.FrameTimeout
	case FaultOutOfSync:
		typ = protocol.FrameOutOfSync
	case FaultHangUp:
		return errHangUp
	}
	if typ != protocol.FrameNormal {
		out := make([]byte, frame.HeaderLen)
		frame.EncodeHeader(out, frame.Header{Size: frame.HeaderLen, Type: typ, Cipher: c.cipher.Type(), ID: id})
		_ = frame.WriteFrame(c.nc, out)
		return errHangUp
	}

	cm := c.buf[c.cipher.CommandOffset():meta]
	binary.LittleEndian.PutUint32(cm[protocol.ClientCookieOffset:], cookie)
	binary.LittleEndian.PutUint32(cm[protocol.ServerCookieOffset:], c.rng.Uint32())
	binary.LittleEndian.PutUint16(cm[protocol.CommandTagOffset:], tag)
	binary.LittleEndian.PutUint16(cm[protocol.ChecksumOffset:], sum)
	size, err := c.cipher.Encode(c.buf, end)
	if err != nil {
		return err
	}
	frame.EncodeHeader(c.buf, frame.Header{Size: uint16(size), Type: typ, Cipher: c.cipher.Type(), ID: id})
	return frame.WriteFrame(c.nc, c.buf[:size])
}
