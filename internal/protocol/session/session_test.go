package session

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/stackwire/internal/auth"
	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/testutil/stackserver"
	"github.com/danmuck/stackwire/internal/testutil/testlog"
	"github.com/danmuck/stackwire/internal/value"
)

func dialTest(t *testing.T, srv *stackserver.Server, cfg Config) *Session {
	t.Helper()
	cfg.Address = srv.Addr()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ping(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Send(protocol.CmdPingServer, true); err != nil {
		t.Fatalf("ping: %v", err)
	}
	cur, err := s.Response()
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	status, err := cur.U32()
	if err != nil || status != uint32(protocol.CodeOK) {
		t.Fatalf("ping status=%d err=%v", status, err)
	}
	s.Discard()
}

func TestHandshakeEachCipher(t *testing.T) {
	testlog.Start(t)
	key := []byte("secret")
	for _, tc := range []struct {
		name string
		tag  uint8
	}{
		{"plain", protocol.CipherPlain},
		{"three-kings", protocol.CipherThreeKings},
		{"des", protocol.CipherDES},
		{"3des", protocol.CipherTripleDES},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := stackserver.Start(t, stackserver.Options{Cipher: tc.tag, Key: key, Database: "main"})
			s := dialTest(t, srv, Config{Database: "main", Credential: key, Cipher: tc.name})
			if s.Cipher().Type() != tc.tag {
				t.Fatalf("cipher=%#x want %#x", s.Cipher().Type(), tc.tag)
			}
			if s.Version() != protocol.ProtocolV1 {
				t.Fatalf("version=%#x", s.Version())
			}
			ping(t, s)
			ping(t, s)

			auths := srv.Auths()
			if len(auths) != 1 {
				t.Fatalf("auths=%d", len(auths))
			}
			a := auths[0]
			if a.Database != "main" || a.Cipher != tc.tag || a.User != protocol.UserRegular {
				t.Fatalf("unexpected auth: %+v", a)
			}
			if tc.tag == protocol.CipherPlain {
				if !bytes.Equal(a.Credential, key) {
					t.Fatalf("plain credential=%q", a.Credential)
				}
			} else if a.Credential != nil {
				t.Fatalf("%s sent the key: %q", tc.name, a.Credential)
			}
		})
	}
}

func TestHandshakeRootUser(t *testing.T) {
	testlog.Start(t)
	srv := stackserver.Start(t, stackserver.Options{})
	s := dialTest(t, srv, Config{Root: true})
	ping(t, s)
	if got := srv.Auths()[0].User; got != protocol.UserRoot {
		t.Fatalf("user=%d", got)
	}
}

func TestFrameSizeNegotiation(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		name      string
		proposed  uint16
		requested int
		want      int
	}{
		{"server smaller", 1024, 4096, 1024},
		{"client smaller", 8192, 2048, 2048},
		{"floor", 100, 4096, protocol.MinFrameSize},
		{"max", 0xFFFF, protocol.MaxFrameSize, protocol.MaxFrameSize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := stackserver.Start(t, stackserver.Options{FrameSize: tc.proposed})
			s := dialTest(t, srv, Config{MaxFrameSize: tc.requested})
			if s.FrameSize() != tc.want {
				t.Fatalf("frame size=%d want %d", s.FrameSize(), tc.want)
			}
			if s.Capacity() != tc.want-s.Cipher().MetadataSize() {
				t.Fatalf("capacity=%d", s.Capacity())
			}
			ping(t, s)
			if got := srv.Auths()[0].FrameSize; int(got) != tc.want {
				t.Fatalf("server saw frame size %d", got)
			}
		})
	}
}

func TestInvalidConfigFailsBeforeIO(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		name string
		cfg  Config
		want error
	}{
		{"frame too small", Config{MaxFrameSize: 100}, protocol.ErrInvalidArgs},
		{"frame too large", Config{MaxFrameSize: 70000}, protocol.ErrInvalidArgs},
		{"database nul", Config{Database: "a\x00b"}, protocol.ErrInvalidArgs},
		{"credential nul", Config{Credential: []byte{'x', 0}}, protocol.ErrInvalidArgs},
		{"negative timeout", Config{ReadTimeout: -time.Second}, protocol.ErrInvalidArgs},
		{"unknown cipher", Config{Cipher: "rot13"}, protocol.ErrEncTypeNotSupported},
	} {
		t.Run(tc.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()
			_, err := New(client, tc.cfg)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestHandshakeFailures(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		name string
		opts stackserver.Options
		cfg  Config
		want error
	}{
		{
			name: "required cipher mismatch",
			opts: stackserver.Options{Cipher: protocol.CipherThreeKings, Key: []byte("k")},
			cfg:  Config{Cipher: "plain", Credential: []byte("k")},
			want: protocol.ErrEncTypeNotSupported,
		},
		{
			name: "no common version",
			opts: stackserver.Options{Versions: 0x6},
			want: protocol.ErrProtocolNotSupported,
		},
		{
			name: "credential too large",
			opts: stackserver.Options{FrameSize: protocol.MinFrameSize},
			cfg:  Config{Credential: bytes.Repeat([]byte("c"), 600)},
			want: protocol.ErrLargeArgs,
		},
		{
			name: "database too large",
			opts: stackserver.Options{FrameSize: protocol.MinFrameSize, Cipher: protocol.CipherDES, Key: []byte("k")},
			cfg:  Config{Database: strings.Repeat("d", 600), Credential: []byte("k")},
			want: protocol.ErrLargeArgs,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := stackserver.Start(t, tc.opts)
			tc.cfg.Address = srv.Addr()
			s, err := Dial(context.Background(), tc.cfg)
			if err == nil {
				_ = s.Close()
				t.Fatalf("expected %v", tc.want)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestPlainCredentialValidator(t *testing.T) {
	testlog.Start(t)
	tokens := map[string]bool{"alice-token": true, "bob-token": true}
	srv := stackserver.Start(t, stackserver.Options{Validator: auth.FuncValidator(func(credential []byte) error {
		if !tokens[string(credential)] {
			return auth.ErrUnauthorized
		}
		return nil
	})})

	for _, cred := range []string{"alice-token", "bob-token"} {
		s := dialTest(t, srv, Config{Credential: []byte(cred)})
		ping(t, s)
	}

	rejected := dialTest(t, srv, Config{Credential: []byte("mallory")})
	if err := rejected.Send(protocol.CmdPingServer, true); err == nil {
		if _, err := rejected.Response(); err == nil {
			t.Fatalf("server answered a rejected credential")
		}
	}
	if n := len(srv.Auths()); n != 3 {
		t.Fatalf("server saw %d auth responses", n)
	}
}

func TestFrameIDsAndCookies(t *testing.T) {
	testlog.Start(t)
	srv := stackserver.Start(t, stackserver.Options{})
	s := dialTest(t, srv, Config{})
	if s.ExpectedFrameID() != 0 || s.ServerCookie() != 0 {
		t.Fatalf("fresh session id=%d server cookie=%d", s.ExpectedFrameID(), s.ServerCookie())
	}

	const rounds = 5
	clientCookies := make([]uint32, 0, rounds)
	serverCookies := make([]uint32, 0, rounds)
	for i := 0; i < rounds; i++ {
		ping(t, s)
		clientCookies = append(clientCookies, s.ClientCookie())
		serverCookies = append(serverCookies, s.ServerCookie())
	}
	if s.ExpectedFrameID() != rounds {
		t.Fatalf("expected id=%d want %d", s.ExpectedFrameID(), rounds)
	}

	reqs := srv.Requests()
	if len(reqs) != rounds {
		t.Fatalf("requests=%d", len(reqs))
	}
	for i, req := range reqs {
		if req.ID != uint32(i) {
			t.Fatalf("request %d carried id %d", i, req.ID)
		}
		if req.ClientCookie != clientCookies[i] {
			t.Fatalf("request %d client cookie %#x, session kept %#x", i, req.ClientCookie, clientCookies[i])
		}
		want := uint32(0)
		if i > 0 {
			want = serverCookies[i-1]
		}
		if req.ServerCookie != want {
			t.Fatalf("request %d server cookie %#x want %#x", i, req.ServerCookie, want)
		}
	}
}

func TestResponseFaultsBreakSession(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		name  string
		fault stackserver.Fault
		want  error
	}{
		{"checksum", stackserver.FaultChecksum, protocol.ErrInvalidFrame},
		{"client cookie", stackserver.FaultClientCookie, protocol.ErrOutOfSync},
		{"frame id", stackserver.FaultFrameID, protocol.ErrOutOfSync},
		{"response tag", stackserver.FaultResponseTag, protocol.ErrUnexpectedFrame},
		{"server busy", stackserver.FaultServerBusy, protocol.ErrServerBusy},
		{"server timeout", stackserver.FaultTimeout, protocol.ErrConnectionTimeout},
		{"out of sync", stackserver.FaultOutOfSync, protocol.ErrOutOfSync},
		{"hang up", stackserver.FaultHangUp, protocol.ErrDropped},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := stackserver.Start(t, stackserver.Options{Cipher: protocol.CipherThreeKings, Key: []byte("kings")})
			s := dialTest(t, srv, Config{Credential: []byte("kings")})
			ping(t, s)

			srv.InjectFault(tc.fault)
			err := s.Send(protocol.CmdPingServer, true)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			if !protocol.CodeOf(err).Fatal() {
				t.Fatalf("%v should be fatal", err)
			}
			if !errors.Is(s.Err(), tc.want) {
				t.Fatalf("stored err=%v", s.Err())
			}
			if err := s.Send(protocol.CmdPingServer, true); !errors.Is(err, tc.want) {
				t.Fatalf("broken session accepted a command: %v", err)
			}
			if _, err := s.Response(); !errors.Is(err, tc.want) {
				t.Fatalf("broken session served a response: %v", err)
			}
		})
	}
}

func TestPendingAndCachedStateRules(t *testing.T) {
	testlog.Start(t)
	srv := stackserver.Start(t, stackserver.Options{})
	s := dialTest(t, srv, Config{})

	if err := s.Send(protocol.Response(protocol.CmdPingServer), true); !errors.Is(err, protocol.ErrInvalidArgs) {
		t.Fatalf("response tag as request: %v", err)
	}
	if err := s.Send(protocol.CmdInvalid, true); !errors.Is(err, protocol.ErrInvalidArgs) {
		t.Fatalf("invalid tag: %v", err)
	}
	if _, err := s.Response(); !errors.Is(err, protocol.ErrIncompleteCommand) {
		t.Fatalf("response without command: %v", err)
	}

	if err := s.SetPending(protocol.CmdUpdateStack); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	if err := s.SetPending(protocol.CmdUpdateStack); err != nil {
		t.Fatalf("same command again: %v", err)
	}
	if err := s.SetPending(protocol.CmdReadStack); !errors.Is(err, protocol.ErrIncompleteCommand) {
		t.Fatalf("mixed commands: %v", err)
	}
	s.Discard()

	if err := s.Send(protocol.CmdPingServer, true); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if s.Cached() != protocol.CmdPingServer || s.Pending() != protocol.CmdInvalid {
		t.Fatalf("cached=%#x pending=%#x", s.Cached(), s.Pending())
	}
	if err := s.SetPending(protocol.CmdUpdateStack); !errors.Is(err, protocol.ErrIncompleteCommand) {
		t.Fatalf("pending over cached response: %v", err)
	}
	s.Discard()
	if s.Cached() != protocol.CmdInvalid || s.LastValid() != 0 {
		t.Fatalf("discard left cached=%#x valid=%d", s.Cached(), s.LastValid())
	}
}

func TestBufferedPayloadReachesServer(t *testing.T) {
	testlog.Start(t)
	srv := stackserver.Start(t, stackserver.Options{Cipher: protocol.CipherDES, Key: []byte("des-key")})
	s := dialTest(t, srv, Config{Credential: []byte("des-key")})

	if err := s.SetPending(protocol.CmdUpdateStack); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	w := s.Writer()
	_ = w.PutU8(protocol.SubPush)
	_ = w.PutU16(uint16(value.TypeInt64))
	s.MarkValid(w.Pos())
	want := append([]byte(nil), s.Payload()[:s.LastValid()]...)

	if err := s.Send(protocol.CmdUpdateStack, true); err != nil {
		t.Fatalf("send: %v", err)
	}
	cur, err := s.Response()
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	if status, _ := cur.U32(); status != uint32(protocol.CodeOK) {
		t.Fatalf("status=%d", status)
	}
	reqs := srv.Requests()
	if got := reqs[len(reqs)-1].Payload; !bytes.Equal(got, want) {
		t.Fatalf("server payload=%x want %x", got, want)
	}
	st := srv.Stack()
	if len(st) != 1 || st[0].Type() != value.TypeInt64 || !st[0].IsNull() {
		t.Fatalf("server stack=%v", st)
	}
}

func TestMarkValidOutsidePayloadPanics(t *testing.T) {
	testlog.Start(t)
	srv := stackserver.Start(t, stackserver.Options{})
	s := dialTest(t, srv, Config{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	s.MarkValid(s.Capacity() + 1)
}

func TestCloseSendsCloseCommand(t *testing.T) {
	testlog.Start(t)
	srv := stackserver.Start(t, stackserver.Options{})
	cfg := Config{Address: srv.Addr()}
	s, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ping(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !errors.Is(s.Err(), protocol.ErrDropped) {
		t.Fatalf("closed session err=%v", s.Err())
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		reqs := srv.Requests()
		if n := len(reqs); n > 0 && reqs[n-1].Command == protocol.CmdCloseConn {
			if reqs[n-1].ID != 1 {
				t.Fatalf("close carried id %d", reqs[n-1].ID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never saw close_conn: %+v", reqs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDialRetriesThenFails(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := Config{
		Address:            addr,
		MaxConnectAttempts: 3,
		Backoff:            BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond},
	}
	start := time.Now()
	_, err = Dial(context.Background(), cfg)
	if !errors.Is(err, protocol.ErrDropped) {
		t.Fatalf("err=%v", err)
	}
	if time.Since(start) < 3*time.Millisecond {
		t.Fatalf("dial did not back off between attempts")
	}
}

func TestDialHonoursContext(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{
		Address:            addr,
		MaxConnectAttempts: 10,
		Backoff:            BackoffConfig{InitialDelay: time.Hour},
	}
	if _, err := Dial(ctx, cfg); err == nil {
		t.Fatalf("expected dial to stop on a cancelled context")
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 4, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 1, rng)
	if got < 125*time.Millisecond || got > 375*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
	for attempt := 1; attempt < 12; attempt++ {
		if got := NextBackoffDelay(cfg, attempt, rng); got > cfg.MaxDelay {
			t.Fatalf("attempt %d exceeded max: %v", attempt, got)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Cipher: "  DES "}.WithDefaults()
	if cfg.MaxFrameSize != protocol.DefaultFrameSize || cfg.MaxConnectAttempts != 1 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Cipher != "des" {
		t.Fatalf("cipher=%q", cfg.Cipher)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
