package frame

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	out := make([]byte, 64)
	payload := []byte("stack-frame-body")
	size := HeaderLen + len(payload)
	EncodeHeader(out, Header{Size: uint16(size), Type: 0x01, Cipher: 0x01, ID: 42})
	copy(out[HeaderLen:], payload)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, out); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != size {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), size)
	}

	in := make([]byte, 64)
	h, err := ReadFrame(&buf, in)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if h.Size != uint16(size) || h.Type != 0x01 || h.Cipher != 0x01 || h.ID != 42 {
		t.Fatalf("header mismatch: %+v", h)
	}
	if !bytes.Equal(in[HeaderLen:h.Size], payload) {
		t.Fatalf("payload mismatch: %q", in[HeaderLen:h.Size])
	}
}

func TestHeaderIsLittleEndian(t *testing.T) {
	b := make([]byte, HeaderLen)
	EncodeHeader(b, Header{Size: 0x0102, Type: 3, Cipher: 4, ID: 0x05060708})
	want := []byte{0x02, 0x01, 3, 4, 0x08, 0x07, 0x06, 0x05}
	if !bytes.Equal(b, want) {
		t.Fatalf("header bytes=%x want %x", b, want)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), make([]byte, 32))
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected underlying io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrameSizeBounds(t *testing.T) {
	small := make([]byte, HeaderLen)
	EncodeHeader(small, Header{Size: 4})
	if _, err := ReadFrame(bytes.NewReader(small), make([]byte, 32)); !errors.Is(err, ErrSizeTooSmall) {
		t.Fatalf("expected ErrSizeTooSmall, got %v", err)
	}

	large := make([]byte, HeaderLen)
	EncodeHeader(large, Header{Size: 100})
	if _, err := ReadFrame(bytes.NewReader(large), make([]byte, 32)); !errors.Is(err, ErrSizeTooLarge) {
		t.Fatalf("expected ErrSizeTooLarge, got %v", err)
	}
}

func TestReadFrameShortBody(t *testing.T) {
	b := make([]byte, HeaderLen+2)
	EncodeHeader(b, Header{Size: HeaderLen + 10})
	if _, err := ReadFrame(bytes.NewReader(b), make([]byte, 32)); !errors.Is(err, ErrShortBody) {
		t.Fatalf("expected ErrShortBody, got %v", err)
	}
}

func TestChecksumRoundTripAndMutation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		payload := make([]byte, 1+rng.Intn(600))
		rng.Read(payload)
		sum := Checksum(payload)
		if !VerifyChecksum(sum, payload) {
			t.Fatalf("checksum does not verify its own payload")
		}
		pos := rng.Intn(len(payload))
		payload[pos] ^= byte(1 + rng.Intn(255))
		if VerifyChecksum(sum, payload) {
			t.Fatalf("mutation at %d not detected", pos)
		}
	}
}

func TestChecksumTruncatesTo16Bits(t *testing.T) {
	payload := bytes.Repeat([]byte{0xFF}, 300)
	want := uint16((300 * 0xFF) & 0xFFFF)
	if got := Checksum(payload); got != want {
		t.Fatalf("checksum=%#04x want %#04x", got, want)
	}
}
