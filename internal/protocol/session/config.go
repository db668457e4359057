package session

import (
	"bytes"
	"strings"
	"time"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/cipher"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines how a session reaches and authenticates to a server.
type Config struct {
	Address    string
	Database   string
	Root       bool
	Credential []byte
	// MaxFrameSize is the largest frame the client accepts; the server may lower it.
	MaxFrameSize int
	// Cipher names the cipher the client insists on. Empty accepts the server's choice.
	Cipher string

	ConnectTimeout time.Duration
	// ReadTimeout and WriteTimeout bound each frame; zero waits forever.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxConnectAttempts bounds the initial dial only; established sessions never retry.
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

// DefaultConfig returns the defaults used by stackctl profiles.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:       protocol.DefaultFrameSize,
		ConnectTimeout:     5 * time.Second,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every unset field from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	c.Cipher = strings.ToLower(strings.TrimSpace(c.Cipher))
	return c
}

// Validate rejects settings that would fail the handshake before any I/O happens.
func (c Config) Validate() error {
	if c.MaxFrameSize < protocol.MinFrameSize || c.MaxFrameSize > protocol.MaxFrameSize {
		return protocol.Errorf(protocol.CodeInvalidArgs, "max frame size %d outside [%d,%d]",
			c.MaxFrameSize, protocol.MinFrameSize, protocol.MaxFrameSize)
	}
	if strings.IndexByte(c.Database, 0) >= 0 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "database name contains NUL")
	}
	if bytes.IndexByte(c.Credential, 0) >= 0 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "credential contains NUL")
	}
	if _, err := c.requiredCipher(); err != nil {
		return err
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return protocol.Errorf(protocol.CodeInvalidArgs, "negative frame timeout")
	}
	return nil
}

// requiredCipher returns the insisted cipher tag, or 0 when any supported cipher will do.
func (c Config) requiredCipher() (uint8, error) {
	if c.Cipher == "" {
		return 0, nil
	}
	return cipher.Parse(c.Cipher)
}

func (c Config) userID() uint8 {
	if c.Root {
		return protocol.UserRoot
	}
	return protocol.UserRegular
}
