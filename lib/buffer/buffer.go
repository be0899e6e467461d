package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dNet/lib/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("buffer")

var (
	// ErrBufferPooled is raised (as a panic) when a returned buffer is used
	ErrBufferPooled = errors.New("buffer: use of a buffer that was returned to its pool")
	// ErrDoubleReturn is raised (as a panic) when a buffer is returned twice
	ErrDoubleReturn = errors.New("buffer: buffer returned to pool twice")
	// ErrForeignBuffer is raised (as a panic) when a buffer is returned to a pool that did not create it
	ErrForeignBuffer = errors.New("buffer: buffer does not belong to this pool")
	// ErrSeekOutOfRange is returned when a seek target lies outside [0, Length]
	ErrSeekOutOfRange = errors.New("buffer: seek position out of range")
	// ErrShortBuffer is returned when fewer bytes remain than a read requires
	ErrShortBuffer = errors.New("buffer: not enough bytes remaining")
)

// lifecycle states of a buffer
const (
	stateLive uint32 = iota
	statePooled
)

// Buffer is a growable byte container with a cursor and the transport
// metadata of the message it stages.
//
// Invariant: 0 <= Position() <= Length() <= Capacity().
//
// A Buffer has exactly one owner at a time: either its Pool (pooled state)
// or the borrower that rented it (live state). It must not be used by two
// goroutines at once and must not be retained after it was returned.
type Buffer struct {
	data        []byte
	position    int
	length      int
	endPosition int

	// Transport metadata, reset on return
	DeliveryMode    common.DeliveryMode
	Target          common.Target
	GroupID         int
	CacheID         int
	CacheMode       common.CacheMode
	SequenceChannel byte
	SendEnabled     bool

	state      atomic.Uint32
	generation atomic.Uint64
	leakTimer  atomic.Pointer[time.Timer]
	owner      *Pool
}

// New creates a live buffer that is not managed by any pool.
// It is useful for long-lived scratch space and tests.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	b := &Buffer{data: make([]byte, capacity)}
	b.resetMetadata()
	return b
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Position returns the cursor used by reads and writes
func (b *Buffer) Position() int {
	b.checkLive()
	return b.position
}

// Length returns the number of bytes written
func (b *Buffer) Length() int {
	b.checkLive()
	return b.length
}

// EndPosition returns the position saved by the last SeekToBegin
func (b *Buffer) EndPosition() int {
	b.checkLive()
	return b.endPosition
}

// Capacity returns the size of the backing storage
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Remaining returns the number of written bytes after the cursor
func (b *Buffer) Remaining() int {
	b.checkLive()
	return b.length - b.position
}

// Bytes returns the written bytes. The slice aliases the buffer's storage and
// is only valid until the next write or until the buffer is returned.
func (b *Buffer) Bytes() []byte {
	b.checkLive()
	return b.data[:b.length]
}

// IsPooled reports whether the buffer currently sits in its pool
func (b *Buffer) IsPooled() bool {
	return b.state.Load() == statePooled
}

// --------------------------------------------------------------------------
// Cursor handling
// --------------------------------------------------------------------------

// SetPosition moves the cursor to pos, which must lie within [0, Length]
func (b *Buffer) SetPosition(pos int) error {
	b.checkLive()
	if pos < 0 || pos > b.length {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrSeekOutOfRange, pos, b.length)
	}
	b.position = pos
	return nil
}

// SeekToBegin remembers the current position as end position and moves the
// cursor to the start, typically to read back what was just written.
func (b *Buffer) SeekToBegin() {
	b.checkLive()
	b.endPosition = b.position
	b.position = 0
}

// SeekToEnd moves the cursor back to the position saved by SeekToBegin
func (b *Buffer) SeekToEnd() {
	b.checkLive()
	b.position = b.endPosition
}

// Reset clears cursors and metadata but keeps the backing storage
func (b *Buffer) Reset() {
	b.checkLive()
	b.reset()
}

// --------------------------------------------------------------------------
// Raw byte ranges
// --------------------------------------------------------------------------

// WriteBytes copies p at the cursor, growing the storage as needed
func (b *Buffer) WriteBytes(p []byte) {
	b.checkLive()
	b.ensure(len(p))
	copy(b.data[b.position:], p)
	b.advance(len(p))
}

// WriteByte writes a single byte at the cursor. It never fails.
func (b *Buffer) WriteByte(c byte) error {
	b.checkLive()
	b.ensure(1)
	b.data[b.position] = c
	b.advance(1)
	return nil
}

// ReadBytes copies min(Remaining, len(p)) bytes into p and advances the cursor
func (b *Buffer) ReadBytes(p []byte) int {
	b.checkLive()
	n := copy(p, b.data[b.position:b.length])
	b.position += n
	return n
}

// ReadByte reads a single byte at the cursor
func (b *Buffer) ReadByte() (byte, error) {
	b.checkLive()
	if b.position >= b.length {
		return 0, fmt.Errorf("%w: need 1, have 0", ErrShortBuffer)
	}
	c := b.data[b.position]
	b.position++
	return c, nil
}

// CopyBytes returns a copy of the written bytes that stays valid after the
// buffer is returned to its pool
func (b *Buffer) CopyBytes() []byte {
	src := b.Bytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// checkLive fails fast when a pooled buffer is used
func (b *Buffer) checkLive() {
	if b.state.Load() == statePooled {
		panic(ErrBufferPooled)
	}
}

// ensure grows the storage so that n more bytes fit at the cursor
func (b *Buffer) ensure(n int) {
	need := b.position + n
	if need <= len(b.data) {
		return
	}
	newCap := 2 * len(b.data)
	if newCap < need {
		newCap = need
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.length])
	b.data = grown
}

// advance moves the cursor after a write and extends the length
func (b *Buffer) advance(n int) {
	b.position += n
	if b.position > b.length {
		b.length = b.position
	}
}

// reset zeroes cursors and restores default metadata without the live check
func (b *Buffer) reset() {
	b.position = 0
	b.length = 0
	b.endPosition = 0
	b.resetMetadata()
}

func (b *Buffer) resetMetadata() {
	b.DeliveryMode = common.ReliableOrdered
	b.Target = common.TargetAll
	b.GroupID = 0
	b.CacheID = 0
	b.CacheMode = common.CacheNone
	b.SequenceChannel = 0
	b.SendEnabled = true
}
