// Package buffer provides the pooled binary buffers every message is staged in.
//
// The package focuses on:
//   - A growable, position-tracked byte container (Buffer) with typed read/write
//     primitives and the transport metadata of the message it holds
//   - A stateless stream view (Stream) implementing io.Reader, io.Writer and io.Seeker
//     over a borrowed buffer
//   - A FIFO buffer pool (Pool) with rent/return semantics and a development-time
//     leak detector
//
// Ownership:
//
//	A buffer is owned either by its pool (pooled) or by the borrower that rented it
//	(live), never both. Rent hands a live buffer out, Return resets it and takes it
//	back. Using a pooled buffer, returning a buffer twice or returning it to a pool
//	that did not create it panics: these are programming errors that would otherwise
//	hand the same memory to two borrowers.
//
// Exhaustion:
//
//	Rent never blocks. When the free-list is empty the pool allocates an overflow
//	buffer, logs a rate limited warning and grows by one once the buffer is returned.
//
// Leak detection:
//
//	With PoolConfig.LeakDetection enabled every rent arms a timer (500ms by default).
//	If the buffer is still rented when it fires, the rental stack is logged at error
//	level. Execution continues. Buffer.SuppressTracking disarms the timer for buffers
//	that are meant to live long. With detection disabled no timers or stacks are taken.
//
// Usage:
//
//	pool := buffer.NewPool(buffer.DefaultPoolConfig())
//	b := pool.Rent()
//	defer pool.Return(b)
//
//	buffer.Write(b, uint32(42))
//	b.WriteString("hello")
//	b.SeekToBegin()
//	v, _ := buffer.Read[uint32](b)
package buffer
