// Package frame implements the wire format of the bridge.
//
// Every frame is a 5 byte header followed by the payload:
//
//	[u32 payload length, little-endian][u8 message type][payload]
//
// Frames with an empty payload carry no message and are skipped by readers.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/lib/buffer"
)

// HeaderSize is the size of the frame header in bytes
const HeaderSize = 5

// ErrFrameTooLarge is returned when a header announces more than the allowed payload size
var ErrFrameTooLarge = errors.New("frame: payload exceeds the maximum frame size")

// AppendFrame appends the encoded frame to dst and returns the extended slice
func AppendFrame(dst []byte, t common.MessageType, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, byte(t))
	return append(dst, payload...)
}

// Encode writes the frame at the cursor of b
func Encode(b *buffer.Buffer, t common.MessageType, payload []byte) {
	buffer.Write(b, uint32(len(payload)))
	buffer.Write(b, uint8(t))
	b.WriteBytes(payload)
}

// WriteFrame writes header and payload with a single Write call, so frames of
// concurrent writers can not interleave on connections that serialize writes
func WriteFrame(w io.Writer, t common.MessageType, payload []byte) error {
	packet := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), t, payload)
	_, err := w.Write(packet)
	return err
}

// ReadFrame reads one frame from r. The payload is read into scratch if it
// fits, otherwise a temporary buffer is allocated. The returned payload is only
// valid until the next call with the same scratch buffer.
// maxSize <= 0 disables the size check.
func ReadFrame(r io.Reader, scratch []byte, maxSize int) (common.MessageType, []byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	length := binary.LittleEndian.Uint32(header[:4])
	t := common.MessageType(header[4])

	if length == 0 {
		return t, scratch[:0], nil
	}
	if maxSize > 0 && uint64(length) > uint64(maxSize) {
		return t, nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, maxSize)
	}

	buf := scratch
	if len(buf) < int(length) {
		buf = make([]byte, length)
	}
	if _, err := io.ReadFull(r, buf[:length]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return t, nil, err
	}
	return t, buf[:length], nil
}
