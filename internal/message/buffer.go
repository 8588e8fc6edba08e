package message

import (
	"bytes"
	"io"
)

// Buffer is an immutable UTF-8 JSON payload.
//
// The zero Buffer means "no payload" and is omitted on the wire; an empty,
// non-zero Buffer is encoded as "".
type Buffer struct {
	b []byte
}

// NewBuffer copies p into a new Buffer.
func NewBuffer(p []byte) Buffer {
	if p == nil {
		return Buffer{}
	}
	return Buffer{b: append(make([]byte, 0, len(p)), p...)}
}

// BufferFromString returns a Buffer holding s.
func BufferFromString(s string) Buffer {
	return Buffer{b: []byte(s)}
}

// TakeBuffer wraps p without copying. The caller hands over ownership and must
// not modify p afterwards.
func TakeBuffer(p []byte) Buffer {
	return Buffer{b: p}
}

// IsZero reports whether the buffer carries no payload at all.
func (b Buffer) IsZero() bool { return b.b == nil }

// Len returns the payload length in bytes.
func (b Buffer) Len() int { return len(b.b) }

// String returns the payload as a string.
func (b Buffer) String() string { return string(b.b) }

// Bytes returns a copy of the payload.
func (b Buffer) Bytes() []byte {
	if b.b == nil {
		return nil
	}
	return append([]byte(nil), b.b...)
}

// Equal reports whether both buffers hold the same payload. A zero buffer is
// only equal to another zero buffer.
func (b Buffer) Equal(other Buffer) bool {
	if b.IsZero() != other.IsZero() {
		return false
	}
	return bytes.Equal(b.b, other.b)
}

// WriteTo writes the payload to w.
func (b Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.b)
	return int64(n), err
}

// AppendTo appends the raw payload bytes to dst.
func (b Buffer) AppendTo(dst []byte) []byte {
	return append(dst, b.b...)
}
