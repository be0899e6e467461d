package buffer

import (
	"encoding/binary"
	"fmt"
)

// Primitive is the set of fixed-size types that can be written by raw byte
// reinterpretation. Platform sized int/uint are excluded on purpose.
type Primitive interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

// Write writes v at the cursor in little endian byte order
func Write[T Primitive](b *Buffer, v T) {
	b.checkLive()
	n := binary.Size(v)
	b.ensure(n)
	if _, err := binary.Encode(b.data[b.position:b.position+n], binary.LittleEndian, v); err != nil {
		// only reachable for types outside Primitive
		panic(err)
	}
	b.advance(n)
}

// Read reads a T at the cursor and advances it
func Read[T Primitive](b *Buffer) (T, error) {
	b.checkLive()
	var v T
	n := binary.Size(v)
	if b.length-b.position < n {
		return v, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, b.length-b.position)
	}
	if _, err := binary.Decode(b.data[b.position:b.position+n], binary.LittleEndian, &v); err != nil {
		return v, err
	}
	b.position += n
	return v, nil
}

// WriteUvarint writes v as an unsigned varint
func (b *Buffer) WriteUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.WriteBytes(tmp[:n])
}

// ReadUvarint reads an unsigned varint
func (b *Buffer) ReadUvarint() (uint64, error) {
	b.checkLive()
	v, n := binary.Uvarint(b.data[b.position:b.length])
	if n <= 0 {
		return 0, fmt.Errorf("%w: malformed varint at %d", ErrShortBuffer, b.position)
	}
	b.position += n
	return v, nil
}

// WriteString writes s prefixed with its length as uvarint
func (b *Buffer) WriteString(s string) {
	b.WriteUvarint(uint64(len(s)))
	b.checkLive()
	b.ensure(len(s))
	copy(b.data[b.position:], s)
	b.advance(len(s))
}

// ReadString reads a string written by WriteString
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUvarint()
	if err != nil {
		return "", err
	}
	if uint64(b.length-b.position) < n {
		return "", fmt.Errorf("%w: string needs %d, have %d", ErrShortBuffer, n, b.length-b.position)
	}
	s := string(b.data[b.position : b.position+int(n)])
	b.position += int(n)
	return s, nil
}
