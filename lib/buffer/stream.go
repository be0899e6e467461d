package buffer

import (
	"fmt"
	"io"
)

// Stream adapts a borrowed Buffer to the io interfaces. It holds no state of
// its own: the cursor is the buffer's cursor. A Stream has no Close method,
// the buffer is released through its pool and the stream must not be used
// afterwards.
type Stream struct {
	b *Buffer
}

var (
	_ io.ReadWriteSeeker = (*Stream)(nil)
	_ io.ByteReader      = (*Stream)(nil)
	_ io.ByteWriter      = (*Stream)(nil)
	_ io.WriterTo        = (*Stream)(nil)
)

// Stream returns a stream view over the buffer
func (b *Buffer) Stream() *Stream {
	return &Stream{b: b}
}

// Len returns the number of unread bytes
func (s *Stream) Len() int {
	return s.b.Remaining()
}

// Read copies min(Remaining, len(p)) bytes and returns io.EOF once nothing is left
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.b.Remaining() == 0 {
		return 0, io.EOF
	}
	return s.b.ReadBytes(p), nil
}

// Write writes p at the cursor, growing the buffer as needed
func (s *Stream) Write(p []byte) (int, error) {
	s.b.WriteBytes(p)
	return len(p), nil
}

// ReadByte implements io.ByteReader
func (s *Stream) ReadByte() (byte, error) {
	if s.b.Remaining() == 0 {
		return 0, io.EOF
	}
	return s.b.ReadByte()
}

// WriteByte implements io.ByteWriter
func (s *Stream) WriteByte(c byte) error {
	return s.b.WriteByte(c)
}

// WriteTo writes the unread bytes to w and advances the cursor
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	b := s.b
	b.checkLive()
	n, err := w.Write(b.data[b.position:b.length])
	b.position += n
	return int64(n), err
}

// Seek moves the cursor. The resulting offset must lie within [0, Length].
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	b := s.b
	b.checkLive()

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(b.position)
	case io.SeekEnd:
		base = int64(b.length)
	default:
		return int64(b.position), fmt.Errorf("buffer: invalid whence %d", whence)
	}

	target := base + offset
	if target < 0 || target > int64(b.length) {
		return int64(b.position), fmt.Errorf("%w: %d not in [0, %d]", ErrSeekOutOfRange, target, b.length)
	}
	b.position = int(target)
	return target, nil
}
