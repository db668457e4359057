package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLen is the fixed wire header: size:u16, type:u8, cipher:u8, id:u32.
const HeaderLen = 8

const (
	sizeOff   = 0
	typeOff   = 2
	cipherOff = 3
	idOff     = 4
)

var (
	ErrShortHeader    = errors.New("frame: short header")
	ErrShortBody      = errors.New("frame: short body")
	ErrSizeTooSmall   = errors.New("frame: size smaller than header")
	ErrSizeTooLarge   = errors.New("frame: size exceeds buffer")
	ErrBufferTooSmall = errors.New("frame: buffer smaller than header")
)

// Header is the fixed wire header.
type Header struct {
	Size   uint16
	Type   uint8
	Cipher uint8
	ID     uint32
}

// EncodeHeader writes h into the first HeaderLen bytes of dst.
func EncodeHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint16(dst[sizeOff:], h.Size)
	dst[typeOff] = h.Type
	dst[cipherOff] = h.Cipher
	binary.LittleEndian.PutUint32(dst[idOff:], h.ID)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		Size:   binary.LittleEndian.Uint16(b[sizeOff:]),
		Type:   b[typeOff],
		Cipher: b[cipherOff],
		ID:     binary.LittleEndian.Uint32(b[idOff:]),
	}, nil
}

// ReadFrame reads one frame into buf and returns its header. The body lands in
// buf[HeaderLen:h.Size]; frames larger than buf are rejected before the body is read.
func ReadFrame(r io.Reader, buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, ErrBufferTooSmall
	}
	if _, err := io.ReadFull(r, buf[:HeaderLen]); err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrShortHeader, err)
	}
	h, err := DecodeHeader(buf[:HeaderLen])
	if err != nil {
		return Header{}, err
	}
	if h.Size < HeaderLen {
		return h, fmt.Errorf("%w: %d", ErrSizeTooSmall, h.Size)
	}
	if int(h.Size) > len(buf) {
		return h, fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, h.Size, len(buf))
	}
	if h.Size > HeaderLen {
		if _, err := io.ReadFull(r, buf[HeaderLen:h.Size]); err != nil {
			return h, fmt.Errorf("%w: %w", ErrShortBody, err)
		}
	}
	return h, nil
}

// WriteFrame writes the frame held in buf; its length comes from the encoded header.
func WriteFrame(w io.Writer, buf []byte) error {
	h, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	if h.Size < HeaderLen {
		return fmt.Errorf("%w: %d", ErrSizeTooSmall, h.Size)
	}
	if int(h.Size) > len(buf) {
		return fmt.Errorf("%w: %d > %d", ErrSizeTooLarge, h.Size, len(buf))
	}
	_, err = w.Write(buf[:h.Size])
	return err
}

// Checksum is the unsigned byte sum of payload truncated to 16 bits.
func Checksum(payload []byte) uint16 {
	var sum uint16
	for _, b := range payload {
		sum += uint16(b)
	}
	return sum
}

func VerifyChecksum(sum uint16, payload []byte) bool {
	return Checksum(payload) == sum
}
