// Package cipher implements the frame cipher strategies negotiated at handshake.
//
// Every strategy places the 12-byte command metadata (cookies, command tag, checksum)
// at CommandOffset and the command payload right after it, at MetadataSize. Encode and
// Decode transform a whole frame in place and are invoked on every command frame.
package cipher

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/wire"
)

// Cipher is one negotiated frame protection strategy. Implementations are immutable.
type Cipher interface {
	// Type is the tag sent in every frame header.
	Type() uint8
	// MetadataSize counts the frame header plus every cipher-owned byte before the payload.
	MetadataSize() int
	// CommandOffset is where the client/server cookies, command tag and checksum start.
	CommandOffset() int
	// Padding is the most bytes Encode may append to a frame.
	Padding() int
	// AuthResponse writes the cipher-specific tail of the auth response into buf.
	AuthResponse(buf []byte, database string, credential []byte) (int, error)
	// Encode protects frame[:size] in place and returns the size to put on the wire.
	Encode(frame []byte, size int) (int, error)
	// Decode reverses Encode in place and returns the plain frame size.
	Decode(frame []byte, size int) (int, error)
}

type options struct {
	random io.Reader
}

// Option customizes a cipher built by New.
type Option func(*options)

// WithRandom replaces the source used for kings and IVs.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.random = r
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{random: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the cipher named by tag. key is the shared secret (the user credential).
func New(tag uint8, key []byte, opts ...Option) (Cipher, error) {
	switch tag {
	case protocol.CipherPlain:
		return Plain{}, nil
	case protocol.CipherThreeKings:
		return NewThreeKings(key, opts...)
	case protocol.CipherDES:
		return NewDES(key, opts...)
	case protocol.CipherTripleDES:
		return NewTripleDES(key, opts...)
	}
	return nil, protocol.Errorf(protocol.CodeEncTypeNotSupported, "cipher tag %#02x", tag)
}

// Supported reports whether New understands tag.
func Supported(tag uint8) bool {
	switch tag {
	case protocol.CipherPlain, protocol.CipherThreeKings, protocol.CipherDES, protocol.CipherTripleDES:
		return true
	}
	return false
}

// Name returns the configuration name of a cipher tag.
func Name(tag uint8) string {
	switch tag {
	case protocol.CipherPlain:
		return "plain"
	case protocol.CipherThreeKings:
		return "three-kings"
	case protocol.CipherDES:
		return "des"
	case protocol.CipherTripleDES:
		return "3des"
	}
	return fmt.Sprintf("cipher(%#02x)", tag)
}

// Parse maps a configuration name back to its tag.
func Parse(name string) (uint8, error) {
	switch name {
	case "plain":
		return protocol.CipherPlain, nil
	case "three-kings", "3k":
		return protocol.CipherThreeKings, nil
	case "des":
		return protocol.CipherDES, nil
	case "3des", "triple-des":
		return protocol.CipherTripleDES, nil
	}
	return 0, protocol.Errorf(protocol.CodeEncTypeNotSupported, "unknown cipher %q", name)
}

// writeAuth writes the NUL-terminated database name and, when credential is non-nil,
// the NUL-terminated credential.
func writeAuth(buf []byte, database string, credential []byte) (int, error) {
	w := wire.NewWriter(buf, 0)
	if err := w.PutCString([]byte(database)); err != nil {
		return 0, authError("database name", err)
	}
	if credential != nil {
		if err := w.PutCString(credential); err != nil {
			return 0, authError("credential", err)
		}
	}
	return w.Pos(), nil
}

func authError(what string, err error) error {
	if errors.Is(err, wire.ErrEmbeddedNUL) {
		return protocol.Wrap(protocol.CodeInvalidArgs, what+" contains NUL", err)
	}
	return protocol.Wrap(protocol.CodeLargeArgs, what+" does not fit the auth frame", err)
}

func checkSize(frame []byte, size, min int) error {
	if size < min || size > len(frame) {
		return protocol.Errorf(protocol.CodeInvalidFrame, "frame size %d outside [%d,%d]", size, min, len(frame))
	}
	return nil
}
