// Package bytestream is a shallow reader over a memory-mapped WASM module:
// fixed-width scalars, LEB128 signed/unsigned integers, and length-prefixed
// UTF-8 strings. It never copies the underlying module bytes except where
// the caller explicitly asks for a owned slice (Bytes).
package bytestream

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/stencilc/stencilc/internal/leb128"
)

// Reader reads scalars out of a WASM module's byte image, tracking the
// current byte offset for use in diagnostics.
type Reader struct {
	buf []byte
	pos int
}

// New wraps buf for sequential reading from the start.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the current byte offset into the original module image.
func (r *Reader) Offset() int { return r.pos }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// ReadByte implements io.ByteReader, and is also what leb128 decodes through.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Byte reads a single byte, wrapping EOF with the current offset.
func (r *Reader) Byte() (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read byte at offset %d: %w", r.pos, err)
	}
	return b, nil
}

// Bytes reads and returns n bytes. The returned slice aliases the
// underlying module image; callers that need an owned copy must clone it.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("read %d bytes at offset %d: %w", n, r.pos, io.ErrUnexpectedEOF)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Uint32LE reads a fixed-width little-endian uint32 (used by f32 immediates).
func (r *Reader) Uint32LE() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64LE reads a fixed-width little-endian uint64 (used by f64 immediates).
func (r *Reader) Uint64LE() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Float32LE reads an IEEE-754 little-endian 32-bit float.
func (r *Reader) Float32LE() (float32, error) {
	u, err := r.Uint32LE()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(u), nil
}

// Float64LE reads an IEEE-754 little-endian 64-bit float.
func (r *Reader) Float64LE() (float64, error) {
	u, err := r.Uint64LE()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

// VarUint32 reads an unsigned LEB128 varint, used for indices and sizes.
func (r *Reader) VarUint32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("varuint32 at offset %d: %w", r.pos, err)
	}
	return v, nil
}

// VarUint64 reads an unsigned LEB128 varint.
func (r *Reader) VarUint64() (uint64, error) {
	v, _, err := leb128.DecodeUint64(r)
	if err != nil {
		return 0, fmt.Errorf("varuint64 at offset %d: %w", r.pos, err)
	}
	return v, nil
}

// VarInt32 reads a signed LEB128 varint, used for i32.const and block types.
func (r *Reader) VarInt32() (int32, error) {
	v, _, err := leb128.DecodeInt32(r)
	if err != nil {
		return 0, fmt.Errorf("varint32 at offset %d: %w", r.pos, err)
	}
	return v, nil
}

// VarInt64 reads a signed LEB128 varint, used for i64.const.
func (r *Reader) VarInt64() (int64, error) {
	v, _, err := leb128.DecodeInt64(r)
	if err != nil {
		return 0, fmt.Errorf("varint64 at offset %d: %w", r.pos, err)
	}
	return v, nil
}

// String reads a length-prefixed UTF-8 string: a VarUint32 byte count
// followed by that many bytes.
func (r *Reader) String() (string, error) {
	n, err := r.VarUint32()
	if err != nil {
		return "", fmt.Errorf("string length: %w", err)
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", fmt.Errorf("string bytes: %w", err)
	}
	return string(b), nil
}
