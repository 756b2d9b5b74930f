package protocol

import "encoding/binary"

// Reader reads fixed-width little-endian fields from a submessage body.
// Out-of-range reads return zero and set a sticky truncation flag; callers
// check Truncated once after reading a full layout instead of per field.
type Reader struct {
	data      []byte
	off       int
	truncated bool
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	if r.off >= len(r.data) {
		r.truncated = true
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadH reads 2 bytes as little-endian uint16.
func (r *Reader) ReadH() uint16 {
	if r.off+2 > len(r.data) {
		r.truncated = true
		r.off = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadHS reads 2 bytes as little-endian int16.
func (r *Reader) ReadHS() int16 {
	return int16(r.ReadH())
}

// ReadD reads 4 bytes as little-endian int32.
func (r *Reader) ReadD() int32 {
	return int32(r.ReadDU())
}

// ReadDU reads 4 bytes as little-endian uint32.
func (r *Reader) ReadDU() uint32 {
	if r.off+4 > len(r.data) {
		r.truncated = true
		r.off = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// ReadBytes reads exactly n raw bytes into dst. Short data sets the
// truncation flag and leaves the remainder of dst zeroed.
func (r *Reader) ReadBytes(dst []byte) {
	n := len(dst)
	if r.off+n > len(r.data) {
		r.truncated = true
		copy(dst, r.data[r.off:])
		r.off = len(r.data)
		return
	}
	copy(dst, r.data[r.off:r.off+n])
	r.off += n
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Truncated reports whether any read ran past the end of the buffer.
func (r *Reader) Truncated() bool {
	return r.truncated
}
