package cipher

import (
	"encoding/binary"
	"io"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/frame"
)

const (
	firstKingOffset  = frame.HeaderLen
	secondKingOffset = frame.HeaderLen + 4
	kingsCommandOff  = frame.HeaderLen + 8
)

// gate swaps the width-bit groups starting at bit positions lo and hi.
type gate struct {
	lo, hi, width uint
}

// network is the bit-interchange network in encode order; gate i is driven by bit i of the
// third king. Every gate is its own inverse, so decoding walks the table backwards.
var network = buildNetwork()

func buildNetwork() [32]gate {
	var n [32]gate
	for i := uint(0); i < 16; i++ {
		n[i] = gate{lo: 2 * i, hi: 2*i + 1, width: 1}
	}
	for i := uint(0); i < 8; i++ {
		n[16+i] = gate{lo: 4 * i, hi: 4*i + 2, width: 2}
	}
	for i := uint(0); i < 4; i++ {
		n[24+i] = gate{lo: 8 * i, hi: 8*i + 4, width: 4}
	}
	for i := uint(0); i < 2; i++ {
		n[28+i] = gate{lo: 16 * i, hi: 16*i + 8, width: 8}
	}
	n[30] = gate{lo: 0, hi: 16, width: 16}
	n[31] = gate{lo: 8, hi: 16, width: 8}
	return n
}

func (g gate) apply(v uint32) uint32 {
	mask := uint32(1)<<g.width - 1
	x := ((v >> g.lo) ^ (v >> g.hi)) & mask
	return v ^ (x << g.lo) ^ (x << g.hi)
}

// EncodeBlock masks one 4-byte block with the first and second kings and permutes it with
// the network gated by third.
func EncodeBlock(v, first, second, third uint32) uint32 {
	v -= first
	v ^= second
	for i := 0; i < len(network); i++ {
		if third&(1<<uint(i)) != 0 {
			v = network[i].apply(v)
		}
	}
	return v
}

// DecodeBlock reverses EncodeBlock.
func DecodeBlock(v, first, second, third uint32) uint32 {
	for i := len(network) - 1; i >= 0; i-- {
		if third&(1<<uint(i)) != 0 {
			v = network[i].apply(v)
		}
	}
	v ^= second
	v += first
	return v
}

// ThreeKings is the permutation cipher. The key never travels on the wire.
type ThreeKings struct {
	key    []byte
	random io.Reader
}

// NewThreeKings builds the permutation cipher around key. An empty key is rejected.
func NewThreeKings(key []byte, opts ...Option) (*ThreeKings, error) {
	if len(key) == 0 {
		return nil, protocol.Errorf(protocol.CodeInvalidArgs, "three-kings needs a non-empty key")
	}
	o := buildOptions(opts)
	return &ThreeKings{key: append([]byte(nil), key...), random: o.random}, nil
}

func (*ThreeKings) Type() uint8        { return protocol.CipherThreeKings }
func (*ThreeKings) CommandOffset() int { return kingsCommandOff }
func (*ThreeKings) MetadataSize() int  { return kingsCommandOff + protocol.CommandMetaSize }
func (*ThreeKings) Padding() int       { return 0 }

func (*ThreeKings) AuthResponse(buf []byte, database string, _ []byte) (int, error) {
	return writeAuth(buf, database, nil)
}

// keyStream hands out key bytes for the block loop and the chained XOR.
type keyStream struct {
	key  []byte
	next int
	prev byte
}

// third composes the next four key bytes, round robin, into a control word.
func (k *keyStream) third() uint32 {
	var b [4]byte
	for i := range b {
		b[i] = k.key[k.next]
		k.next = (k.next + 1) % len(k.key)
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (k *keyStream) xorEncode(b []byte) {
	for i := range b {
		b[i] ^= k.key[int(k.prev)%len(k.key)]
		k.prev = b[i]
	}
}

func (k *keyStream) xorDecode(b []byte) {
	for i := range b {
		in := b[i]
		b[i] ^= k.key[int(k.prev)%len(k.key)]
		k.prev = in
	}
}

func (c *ThreeKings) Encode(f []byte, size int) (int, error) {
	if err := checkSize(f, size, c.MetadataSize()); err != nil {
		return 0, err
	}
	var kings [8]byte
	if _, err := io.ReadFull(c.random, kings[:]); err != nil {
		return 0, protocol.Wrap(protocol.CodeGeneralError, "three-kings: draw kings", err)
	}
	copy(f[firstKingOffset:], kings[:])
	first := binary.LittleEndian.Uint32(kings[0:4])
	second := binary.LittleEndian.Uint32(kings[4:8])

	ks := keyStream{key: c.key}
	ks.xorEncode(f[kingsCommandOff:c.MetadataSize()])
	pos := c.MetadataSize()
	for ; pos+4 <= size; pos += 4 {
		v := binary.LittleEndian.Uint32(f[pos:])
		binary.LittleEndian.PutUint32(f[pos:], EncodeBlock(v, first, second, ks.third()))
	}
	ks.xorEncode(f[pos:size])
	return size, nil
}

func (c *ThreeKings) Decode(f []byte, size int) (int, error) {
	if err := checkSize(f, size, c.MetadataSize()); err != nil {
		return 0, err
	}
	first := binary.LittleEndian.Uint32(f[firstKingOffset:])
	second := binary.LittleEndian.Uint32(f[secondKingOffset:])

	ks := keyStream{key: c.key}
	ks.xorDecode(f[kingsCommandOff:c.MetadataSize()])
	pos := c.MetadataSize()
	for ; pos+4 <= size; pos += 4 {
		v := binary.LittleEndian.Uint32(f[pos:])
		binary.LittleEndian.PutUint32(f[pos:], DecodeBlock(v, first, second, ks.third()))
	}
	ks.xorDecode(f[pos:size])
	return size, nil
}
