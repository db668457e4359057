package cipher

import (
	stdcipher "crypto/cipher"
	"crypto/des"
	"io"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/frame"
)

const (
	desIVOffset      = frame.HeaderLen
	desPadOffset     = frame.HeaderLen + des.BlockSize
	desCommandOffset = desPadOffset + 4
)

// BlockCipher runs CBC over everything from CommandOffset to the frame end. The IV and the
// pad count travel in the clear ahead of the command metadata.
type BlockCipher struct {
	tag    uint8
	block  stdcipher.Block
	random io.Reader
}

// NewDES keys single DES with the first 8 credential bytes, zero-extended when shorter.
func NewDES(key []byte, opts ...Option) (*BlockCipher, error) {
	block, err := des.NewCipher(fitKey(key, 8))
	if err != nil {
		return nil, protocol.Wrap(protocol.CodeInvalidArgs, "des key", err)
	}
	return &BlockCipher{tag: protocol.CipherDES, block: block, random: buildOptions(opts).random}, nil
}

// NewTripleDES keys 3DES-EDE with the first 24 credential bytes, zero-extended when shorter.
func NewTripleDES(key []byte, opts ...Option) (*BlockCipher, error) {
	block, err := des.NewTripleDESCipher(fitKey(key, 24))
	if err != nil {
		return nil, protocol.Wrap(protocol.CodeInvalidArgs, "3des key", err)
	}
	return &BlockCipher{tag: protocol.CipherTripleDES, block: block, random: buildOptions(opts).random}, nil
}

func fitKey(key []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, key)
	return out
}

func (c *BlockCipher) Type() uint8      { return c.tag }
func (*BlockCipher) CommandOffset() int { return desCommandOffset }
func (*BlockCipher) MetadataSize() int  { return desCommandOffset + protocol.CommandMetaSize }
func (*BlockCipher) Padding() int       { return des.BlockSize - 1 }

func (*BlockCipher) AuthResponse(buf []byte, database string, _ []byte) (int, error) {
	return writeAuth(buf, database, nil)
}

func (c *BlockCipher) Encode(f []byte, size int) (int, error) {
	if err := checkSize(f, size, c.MetadataSize()); err != nil {
		return 0, err
	}
	pad := (des.BlockSize - (size-desCommandOffset)%des.BlockSize) % des.BlockSize
	if size+pad > len(f) {
		return 0, protocol.Errorf(protocol.CodeLargeArgs, "des: no room for %d pad bytes", pad)
	}
	for i := size; i < size+pad; i++ {
		f[i] = 0
	}
	iv := f[desIVOffset:desPadOffset]
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return 0, protocol.Wrap(protocol.CodeGeneralError, "des: draw iv", err)
	}
	f[desPadOffset] = byte(pad)
	f[desPadOffset+1], f[desPadOffset+2], f[desPadOffset+3] = 0, 0, 0

	region := f[desCommandOffset : size+pad]
	stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(region, region)
	return size + pad, nil
}

func (c *BlockCipher) Decode(f []byte, size int) (int, error) {
	if err := checkSize(f, size, c.MetadataSize()); err != nil {
		return 0, err
	}
	region := f[desCommandOffset:size]
	if len(region)%des.BlockSize != 0 {
		return 0, protocol.Errorf(protocol.CodeInvalidFrame, "des: region of %d bytes is not block aligned", len(region))
	}
	pad := int(f[desPadOffset])
	if pad >= des.BlockSize || size-pad < c.MetadataSize() {
		return 0, protocol.Errorf(protocol.CodeInvalidFrame, "des: bad pad count %d", pad)
	}
	iv := f[desIVOffset:desPadOffset]
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(region, region)
	return size - pad, nil
}
