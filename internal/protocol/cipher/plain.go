package cipher

import (
	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/frame"
)

// Plain sends frames unprotected. The credential travels in the auth response.
type Plain struct{}

func (Plain) Type() uint8        { return protocol.CipherPlain }
func (Plain) CommandOffset() int { return frame.HeaderLen }
func (Plain) MetadataSize() int  { return frame.HeaderLen + protocol.CommandMetaSize }
func (Plain) Padding() int       { return 0 }

func (Plain) AuthResponse(buf []byte, database string, credential []byte) (int, error) {
	if credential == nil {
		credential = []byte{}
	}
	return writeAuth(buf, database, credential)
}

func (p Plain) Encode(f []byte, size int) (int, error) {
	if err := checkSize(f, size, p.MetadataSize()); err != nil {
		return 0, err
	}
	return size, nil
}

func (p Plain) Decode(f []byte, size int) (int, error) {
	if err := checkSize(f, size, p.MetadataSize()); err != nil {
		return 0, err
	}
	return size, nil
}
