package session

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/danmuck/stackwire/internal/observability"
	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/cipher"
	"github.com/danmuck/stackwire/internal/protocol/frame"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/rs/zerolog"
)

// Session is one authenticated connection to a stack server.
type Session struct {
	conn      net.Conn
	cfg       Config
	cipher    cipher.Cipher
	buf       []byte
	frameSize int
	version   uint32

	expectedID   uint32
	clientCookie uint32
	serverCookie uint32
	pending      uint16
	cached       uint16
	valid        int

	rng    *rand.Rand
	broken error
	closed bool
	log    zerolog.Logger
}

// Dial connects to cfg.Address and authenticates. Only the TCP dial is retried, with
// cfg.Backoff between attempts; a failed handshake is returned immediately.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	logger := observability.Logger("session")
	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			s, err := New(conn, cfg)
			if err != nil {
				_ = conn.Close()
				return nil, err
			}
			return s, nil
		}
		logger.Warn().Int("attempt", attempt).Str("addr", cfg.Address).Err(err).Msg("dial failed")
		if attempt >= cfg.MaxConnectAttempts {
			return nil, ioError("dial "+cfg.Address, err)
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// New runs the handshake over an established connection. The caller keeps ownership of conn
// when New fails.
func New(conn net.Conn, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr := cfg.Address
	if addr == "" && conn.RemoteAddr() != nil {
		addr = conn.RemoteAddr().String()
	}
	s := &Session{
		conn:    conn,
		cfg:     cfg,
		pending: protocol.CmdInvalid,
		cached:  protocol.CmdInvalid,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     observability.Logger("session").With().Str("addr", addr).Logger(),
	}
	if err := s.handshake(); err != nil {
		label := cfg.Cipher
		if label == "" {
			label = "any"
		}
		observability.RecordHandshake(label, false)
		observability.RecordError(protocol.CodeOf(err).String(), true)
		s.log.Error().Err(err).Msg("handshake failed")
		return nil, err
	}
	observability.RecordHandshake(cipher.Name(s.cipher.Type()), true)
	s.log.Info().
		Str("cipher", cipher.Name(s.cipher.Type())).
		Int("frame_size", s.frameSize).
		Uint32("version", s.version).
		Msg("session established")
	return s, nil
}

func (s *Session) handshake() error {
	if s.cfg.ConnectTimeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.cfg.ConnectTimeout))
		defer func() { _ = s.conn.SetDeadline(time.Time{}) }()
	}

	in := make([]byte, protocol.MinFrameSize)
	h, err := frame.ReadFrame(s.conn, in)
	if err != nil {
		return ioError("read auth frame", err)
	}
	if err := specialFrame(h.Type); err != nil {
		return err
	}
	if h.Type != protocol.FrameAuth {
		return protocol.Errorf(protocol.CodeUnexpectedFrame, "expected auth frame, got type %#02x", h.Type)
	}
	c := wire.NewCursor(in[frame.HeaderLen:h.Size])
	versions, err := c.U32()
	if err != nil {
		return protocol.Wrap(protocol.CodeInvalidFrame, "auth frame", err)
	}
	proposed, err := c.U16()
	if err != nil {
		return protocol.Wrap(protocol.CodeInvalidFrame, "auth frame", err)
	}
	tag, err := c.U8()
	if err != nil {
		return protocol.Wrap(protocol.CodeInvalidFrame, "auth frame", err)
	}

	common := versions & protocol.SupportedVersions
	if common == 0 {
		return protocol.Errorf(protocol.CodeProtocolNotSupported, "server versions %#x, client %#x", versions, protocol.SupportedVersions)
	}
	s.version = common & -common

	required, _ := s.cfg.requiredCipher()
	if required != 0 && tag != required {
		return protocol.Errorf(protocol.CodeEncTypeNotSupported, "server offers %s, profile requires %s", cipher.Name(tag), cipher.Name(required))
	}
	ci, err := cipher.New(tag, s.cfg.Credential)
	if err != nil {
		return err
	}
	s.cipher = ci
	s.frameSize = max(protocol.MinFrameSize, min(s.cfg.MaxFrameSize, int(proposed)))
	s.buf = make([]byte, s.frameSize)

	w := wire.NewWriter(s.buf, frame.HeaderLen)
	_ = w.PutU32(s.version)
	_ = w.PutU8(s.cfg.userID())
	_ = w.PutU8(tag)
	_ = w.PutU16(uint16(s.frameSize))
	n, err := ci.AuthResponse(s.buf[w.Pos():], s.cfg.Database, s.cfg.Credential)
	if err != nil {
		return err
	}
	size := w.Pos() + n
	frame.EncodeHeader(s.buf, frame.Header{Size: uint16(size), Type: protocol.FrameAuthResponse, Cipher: tag})
	if err := frame.WriteFrame(s.conn, s.buf[:size]); err != nil {
		return ioError("write auth response", err)
	}
	observability.RecordFrame(observability.DirectionSent, cipher.Name(tag), size)
	s.Discard()
	return nil
}

// Payload is the writable command region: everything after the cipher metadata that an
// encoded frame can still carry.
func (s *Session) Payload() []byte {
	return s.buf[s.cipher.MetadataSize() : s.frameSize-s.cipher.Padding()]
}

// Capacity is len(Payload()).
func (s *Session) Capacity() int {
	return s.frameSize - s.cipher.Padding() - s.cipher.MetadataSize()
}

// LastValid is the count of meaningful payload bytes: buffered command bytes while a
// command is pending, response bytes while a response is cached.
func (s *Session) LastValid() int { return s.valid }

// MarkValid commits n payload bytes as part of the pending command.
func (s *Session) MarkValid(n int) {
	if n < 0 || n > s.Capacity() {
		panic("session: MarkValid outside payload")
	}
	s.valid = n
}

// Writer appends to the pending command after the last valid byte. Commit with MarkValid.
func (s *Session) Writer() *wire.Writer {
	return wire.NewWriter(s.Payload(), s.valid)
}

// Discard drops the pending command and any cached response.
func (s *Session) Discard() {
	s.pending = protocol.CmdInvalid
	s.cached = protocol.CmdInvalid
	s.valid = 0
}

func (s *Session) Pending() uint16 { return s.pending }
func (s *Session) Cached() uint16  { return s.cached }

// SetPending starts or continues buffering cmd. It fails while a response is cached or a
// different command is pending.
func (s *Session) SetPending(cmd uint16) error {
	if s.broken != nil {
		return s.broken
	}
	if s.cached != protocol.CmdInvalid {
		return protocol.Errorf(protocol.CodeIncompleteCommand, "response to %s still cached", protocol.CommandName(s.cached))
	}
	if s.pending != protocol.CmdInvalid && s.pending != cmd {
		return protocol.Errorf(protocol.CodeIncompleteCommand, "%s pending, cannot start %s", protocol.CommandName(s.pending), protocol.CommandName(cmd))
	}
	if s.pending != cmd {
		s.pending = cmd
		s.valid = 0
	}
	return nil
}

// Send transmits cmd with the buffered payload. With wait it blocks for the matching
// response, validates it and caches it; the response payload is then read via Response.
func (s *Session) Send(cmd uint16, wait bool) error {
	if !protocol.IsRequest(cmd) {
		return protocol.Errorf(protocol.CodeInvalidArgs, "%#04x is not a request tag", cmd)
	}
	if err := s.SetPending(cmd); err != nil {
		return err
	}
	start := time.Now()
	if err := s.writeCommand(cmd); err != nil {
		return s.fail(err)
	}
	s.pending = protocol.CmdInvalid
	s.valid = 0
	if !wait {
		return nil
	}
	n, err := s.readResponse(cmd)
	if err != nil {
		return s.fail(err)
	}
	s.cached = cmd
	s.valid = n
	observability.RecordRoundTrip(protocol.CommandName(cmd), time.Since(start))
	return nil
}

// Response reads the cached response payload, status included.
func (s *Session) Response() (*wire.Cursor, error) {
	if s.broken != nil {
		return nil, s.broken
	}
	if s.cached == protocol.CmdInvalid {
		return nil, protocol.Errorf(protocol.CodeIncompleteCommand, "no cached response")
	}
	meta := s.cipher.MetadataSize()
	return wire.NewCursor(s.buf[meta : meta+s.valid]), nil
}

func (s *Session) writeCommand(cmd uint16) error {
	meta := s.cipher.MetadataSize()
	size := meta + s.valid
	s.clientCookie = s.rng.Uint32()

	cm := s.buf[s.cipher.CommandOffset():meta]
	binary.LittleEndian.PutUint32(cm[protocol.ClientCookieOffset:], s.clientCookie)
	binary.LittleEndian.PutUint32(cm[protocol.ServerCookieOffset:], s.serverCookie)
	binary.LittleEndian.PutUint16(cm[protocol.CommandTagOffset:], cmd)
	binary.LittleEndian.PutUint16(cm[protocol.ChecksumOffset:], frame.Checksum(s.buf[meta:size]))

	wireSize, err := s.cipher.Encode(s.buf, size)
	if err != nil {
		return err
	}
	frame.EncodeHeader(s.buf, frame.Header{
		Size:   uint16(wireSize),
		Type:   protocol.FrameNormal,
		Cipher: s.cipher.Type(),
		ID:     s.expectedID,
	})
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := frame.WriteFrame(s.conn, s.buf[:wireSize]); err != nil {
		return ioError("write "+protocol.CommandName(cmd), err)
	}
	s.log.Debug().
		Uint32("frame_id", s.expectedID).
		Str("cmd", protocol.CommandName(cmd)).
		Int("size", wireSize).
		Msg("frame sent")
	observability.RecordFrame(observability.DirectionSent, cipher.Name(s.cipher.Type()), wireSize)
	s.expectedID++
	return nil
}

// readResponse returns the payload length of the validated response to cmd.
func (s *Session) readResponse(cmd uint16) (int, error) {
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	h, err := frame.ReadFrame(s.conn, s.buf)
	if err != nil {
		return 0, ioError("read "+protocol.CommandName(cmd)+" response", err)
	}
	if err := specialFrame(h.Type); err != nil {
		return 0, err
	}
	if h.Type != protocol.FrameNormal {
		return 0, protocol.Errorf(protocol.CodeInvalidFrame, "unknown frame type %#02x", h.Type)
	}
	if h.ID != s.expectedID {
		return 0, protocol.Errorf(protocol.CodeOutOfSync, "frame id %d, expected %d", h.ID, s.expectedID)
	}
	meta := s.cipher.MetadataSize()
	if int(h.Size) < meta {
		return 0, protocol.Errorf(protocol.CodeInvalidFrame, "frame of %d bytes is shorter than its metadata", h.Size)
	}
	if h.Cipher != s.cipher.Type() {
		return 0, protocol.Errorf(protocol.CodeInvalidFrame, "frame cipher %s, session uses %s", cipher.Name(h.Cipher), cipher.Name(s.cipher.Type()))
	}
	observability.RecordFrame(observability.DirectionReceived, cipher.Name(h.Cipher), int(h.Size))

	size, err := s.cipher.Decode(s.buf, int(h.Size))
	if err != nil {
		return 0, err
	}
	cm := s.buf[s.cipher.CommandOffset():meta]
	sum := binary.LittleEndian.Uint16(cm[protocol.ChecksumOffset:])
	if !frame.VerifyChecksum(sum, s.buf[meta:size]) {
		return 0, protocol.Errorf(protocol.CodeInvalidFrame, "checksum mismatch on frame %d", h.ID)
	}
	if cookie := binary.LittleEndian.Uint32(cm[protocol.ClientCookieOffset:]); cookie != s.clientCookie {
		return 0, protocol.Errorf(protocol.CodeOutOfSync, "client cookie %#08x, sent %#08x", cookie, s.clientCookie)
	}
	if tag := binary.LittleEndian.Uint16(cm[protocol.CommandTagOffset:]); tag != protocol.Response(cmd) {
		return 0, protocol.Errorf(protocol.CodeUnexpectedFrame, "response tag %#04x to %s", tag, protocol.CommandName(cmd))
	}
	s.serverCookie = binary.LittleEndian.Uint32(cm[protocol.ServerCookieOffset:])
	s.log.Debug().
		Uint32("frame_id", h.ID).
		Str("cmd", protocol.CommandName(cmd)).
		Int("size", size).
		Msg("frame received")
	return size - meta, nil
}

// fail marks the session broken. Only transport paths call it, so every error is fatal.
func (s *Session) fail(err error) error {
	var pe *protocol.Error
	if !errors.As(err, &pe) {
		pe = protocol.Wrap(protocol.CodeGeneralError, "transport", err)
	}
	s.broken = pe
	s.pending = protocol.CmdInvalid
	s.cached = protocol.CmdInvalid
	s.valid = 0
	observability.RecordError(pe.Code.String(), true)
	s.log.Error().Err(pe).Uint32("frame_id", s.expectedID).Msg("session broken")
	return pe
}

// Close sends a best-effort close command and closes the socket. Errors are ignored.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.broken == nil {
		s.Discard()
		if err := s.Send(protocol.CmdCloseConn, false); err != nil {
			s.log.Debug().Err(err).Msg("close command not delivered")
		}
	}
	_ = s.conn.Close()
	if s.broken == nil {
		s.broken = protocol.Errorf(protocol.CodeDropped, "session closed")
	}
	s.log.Info().Msg("session closed")
	return nil
}

// Err is the error that broke the session, or nil while it is usable.
func (s *Session) Err() error { return s.broken }

func (s *Session) ExpectedFrameID() uint32 { return s.expectedID }
func (s *Session) ClientCookie() uint32    { return s.clientCookie }
func (s *Session) ServerCookie() uint32    { return s.serverCookie }
func (s *Session) FrameSize() int          { return s.frameSize }
func (s *Session) Version() uint32         { return s.version }
func (s *Session) Cipher() cipher.Cipher   { return s.cipher }

func specialFrame(typ uint8) error {
	switch typ {
	case protocol.FrameTimeout:
		return protocol.Errorf(protocol.CodeConnectionTimeout, "server timed out the session")
	case protocol.FrameOutOfSync:
		return protocol.Errorf(protocol.CodeOutOfSync, "server reports frames out of sync")
	case protocol.FrameServerBusy:
		return protocol.Errorf(protocol.CodeServerBusy, "server busy")
	}
	return nil
}

// ioError maps socket and framing failures onto protocol error kinds.
func ioError(op string, err error) error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return err
	}
	var ne net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return protocol.Wrap(protocol.CodeConnectionTimeout, op, err)
	case errors.Is(err, frame.ErrSizeTooSmall), errors.Is(err, frame.ErrSizeTooLarge):
		return protocol.Wrap(protocol.CodeInvalidFrame, op, err)
	}
	// EOF, reset and closed pipes all mean the peer is gone.
	return protocol.Wrap(protocol.CodeDropped, op, err)
}
