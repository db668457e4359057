package stack

import (
	"context"

	"github.com/danmuck/stackwire/internal/observability"
	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/session"
	"github.com/danmuck/stackwire/internal/protocol/wire"
	"github.com/danmuck/stackwire/internal/value"
	"github.com/golang/groupcache/lru"
	"github.com/rs/zerolog"
)

// State is the command state of a Conn.
type State int

const (
	StateIdle State = iota
	StateDirty
	StateReadCached
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDirty:
		return "stack_dirty"
	case StateReadCached:
		return "read_cached"
	}
	return "unknown"
}

// Config tunes client-side behaviour on top of the session.
type Config struct {
	// ProcedureCacheSize bounds the number of cached procedure descriptions. Zero disables
	// the cache.
	ProcedureCacheSize int
}

func DefaultConfig() Config {
	return Config{ProcedureCacheSize: 64}
}

// Conn runs stack operations over one session.
type Conn struct {
	s     *session.Session
	procs *lru.Cache
	rc    readCache
	log   zerolog.Logger
}

// New wraps an established session. The Conn takes ownership of s.
func New(s *session.Session, cfg Config) *Conn {
	c := &Conn{s: s, log: observability.Logger("stack")}
	if cfg.ProcedureCacheSize > 0 {
		c.procs = lru.New(cfg.ProcedureCacheSize)
	}
	return c
}

// Open dials a session and wraps it.
func Open(ctx context.Context, scfg session.Config, cfg Config) (*Conn, error) {
	s, err := session.Dial(ctx, scfg)
	if err != nil {
		return nil, err
	}
	return New(s, cfg), nil
}

// Close drops buffered updates and closes the session.
func (c *Conn) Close() error {
	c.rc = readCache{}
	return c.s.Close()
}

func (c *Conn) Session() *session.Session { return c.s }

func (c *Conn) State() State {
	switch {
	case c.s.Pending() == protocol.CmdUpdateStack:
		return StateDirty
	case c.s.Cached() == protocol.CmdReadStack:
		return StateReadCached
	}
	return StateIdle
}

// Discard drops buffered updates and any cached read, returning the Conn to StateIdle.
// Buffered updates are lost, not sent.
func (c *Conn) Discard() {
	c.s.Discard()
	c.rc = readCache{}
}

// roundTrip sends cmd with the payload put writes and returns the response cursor
// positioned after an OK status. A non-OK status discards the response and is returned as
// a non-fatal error.
func (c *Conn) roundTrip(cmd uint16, put func(w *wire.Writer) error) (*wire.Cursor, error) {
	if err := c.s.SetPending(cmd); err != nil {
		return nil, err
	}
	if put != nil {
		w := c.s.Writer()
		if err := put(w); err != nil {
			c.s.Discard()
			return nil, argError(protocol.CommandName(cmd), err)
		}
		c.s.MarkValid(w.Pos())
	}
	if err := c.s.Send(cmd, true); err != nil {
		return nil, err
	}
	cur, err := c.s.Response()
	if err != nil {
		return nil, err
	}
	status, err := cur.U32()
	if err != nil {
		c.s.Discard()
		return nil, protocol.Wrap(protocol.CodeGeneralError, protocol.CommandName(cmd)+" response", err)
	}
	if err := protocol.FromStatus(status, protocol.CommandName(cmd)); err != nil {
		c.s.Discard()
		c.log.Debug().Str("cmd", protocol.CommandName(cmd)).Uint32("status", status).Msg("server refused command")
		return nil, err
	}
	return cur, nil
}

// Ping checks that the server answers.
func (c *Conn) Ping() error {
	if _, err := c.roundTrip(protocol.CmdPingServer, nil); err != nil {
		return err
	}
	c.s.Discard()
	return nil
}

// Execute flushes buffered updates and runs the named procedure on the current stack.
func (c *Conn) Execute(name string) error {
	if err := c.Flush(); err != nil {
		return err
	}
	_, err := c.roundTrip(protocol.CmdExecProc, func(w *wire.Writer) error {
		return w.PutCString([]byte(name))
	})
	if err != nil {
		return err
	}
	c.s.Discard()
	c.log.Debug().Str("proc", name).Msg("procedure executed")
	return nil
}

// Call pushes args, runs the procedure and pops its result. Arguments are checked against
// the procedure description first. Procedures without a return type yield an undefined
// null value.
func (c *Conn) Call(name string, args ...value.Value) (value.Value, error) {
	proc, err := c.DescribeProcedure(name)
	if err != nil {
		return value.Value{}, err
	}
	if len(args) != len(proc.Params) {
		return value.Value{}, protocol.Errorf(protocol.CodeInvalidArgs, "%s takes %d arguments, got %d", name, len(proc.Params), len(args))
	}
	for i, a := range args {
		if a.Type() != proc.Params[i].Type {
			return value.Value{}, protocol.Errorf(protocol.CodeTypeMismatch, "%s argument %d is %s, want %s", name, i, a.Type(), proc.Params[i].Type)
		}
	}
	for _, a := range args {
		if err := c.PushValue(a); err != nil {
			return value.Value{}, err
		}
	}
	if err := c.Execute(name); err != nil {
		return value.Value{}, err
	}
	if proc.Return.Type == value.TypeUndefined {
		return value.Null(value.TypeUndefined), nil
	}
	result, err := c.RetrieveTop()
	if err != nil {
		return value.Value{}, err
	}
	if err := c.Pop(1); err != nil {
		return value.Value{}, err
	}
	if err := c.Flush(); err != nil {
		return value.Value{}, err
	}
	return result, nil
}
