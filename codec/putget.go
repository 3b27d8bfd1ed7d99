package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned by a Get function when buf does not contain a
// full encoded record.
var ErrShortBuffer = errors.New("codec: short buffer")

// putter accumulates a record's encoding. With buf == nil it only tallies
// the size that would be written; with buf != nil it writes
// in place and returns the same size.
type putter struct {
	buf []byte
	off int
}

func newPutter(buf []byte) *putter { return &putter{buf: buf} }

func (p *putter) size() int { return p.off }

func (p *putter) uvarint(v uint64) {
	if p.buf == nil {
		p.off += varintSize(v)
		return
	}
	p.off += binary.PutUvarint(p.buf[p.off:], v)
}

func (p *putter) varint(v int64) {
	if p.buf == nil {
		var tmp [binary.MaxVarintLen64]byte
		p.off += binary.PutVarint(tmp[:], v)
		return
	}
	p.off += binary.PutVarint(p.buf[p.off:], v)
}

func (p *putter) u8(v uint8) {
	if p.buf != nil {
		p.buf[p.off] = v
	}
	p.off++
}

func (p *putter) u16(v uint16) {
	if p.buf != nil {
		binary.LittleEndian.PutUint16(p.buf[p.off:p.off+2], v)
	}
	p.off += 2
}

func (p *putter) u32(v uint32) {
	if p.buf != nil {
		binary.LittleEndian.PutUint32(p.buf[p.off:p.off+4], v)
	}
	p.off += 4
}

func (p *putter) u64(v uint64) {
	if p.buf != nil {
		binary.LittleEndian.PutUint64(p.buf[p.off:p.off+8], v)
	}
	p.off += 8
}

func (p *putter) i16(v int16) { p.u16(uint16(v)) }
func (p *putter) i64(v int64) { p.u64(uint64(v)) }

func (p *putter) f64(v float64) { p.u64(math.Float64bits(v)) }

func (p *putter) bytes(b []byte) {
	if p.buf != nil {
		copy(p.buf[p.off:], b)
	}
	p.off += len(b)
}

func varintSize(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

// getter decodes a record previously written by putter, accumulating the
// first error encountered so call sites can chain field reads without
// checking after every one.
type getter struct {
	buf []byte
	off int
	err error
}

func newGetter(buf []byte) *getter { return &getter{buf: buf} }

func (g *getter) result() (int, error) { return g.off, g.err }

func (g *getter) need(n int) bool {
	if g.err != nil {
		return false
	}
	if g.off+n > len(g.buf) {
		g.err = ErrShortBuffer
		return false
	}
	return true
}

func (g *getter) uvarint() uint64 {
	if g.err != nil {
		return 0
	}
	v, n := binary.Uvarint(g.buf[g.off:])
	if n <= 0 {
		g.err = ErrShortBuffer
		return 0
	}
	g.off += n
	return v
}

func (g *getter) varint() int64 {
	if g.err != nil {
		return 0
	}
	v, n := binary.Varint(g.buf[g.off:])
	if n <= 0 {
		g.err = ErrShortBuffer
		return 0
	}
	g.off += n
	return v
}

func (g *getter) u8() uint8 {
	if !g.need(1) {
		return 0
	}
	v := g.buf[g.off]
	g.off++
	return v
}

func (g *getter) u16() uint16 {
	if !g.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(g.buf[g.off : g.off+2])
	g.off += 2
	return v
}

func (g *getter) u32() uint32 {
	if !g.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(g.buf[g.off : g.off+4])
	g.off += 4
	return v
}

func (g *getter) u64() uint64 {
	if !g.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(g.buf[g.off : g.off+8])
	g.off += 8
	return v
}

func (g *getter) i16() int16   { return int16(g.u16()) }
func (g *getter) i64() int64   { return int64(g.u64()) }
func (g *getter) f64() float64 { return math.Float64frombits(g.u64()) }

func (g *getter) bytes(n int) []byte {
	if !g.need(n) {
		return nil
	}
	b := g.buf[g.off : g.off+n]
	g.off += n
	return b
}
