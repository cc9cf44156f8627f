// Package rxbuf holds the modem receive buffer shared between the serial
// reader goroutine (producer) and the command dispatcher (consumer).
//
// The buffer is a fixed-size single-producer, single-consumer byte ring with
// monotonic indices. The producer owns the write index and is the only
// writer of bytes; the consumer owns the read index and is the only reader
// and the only one allowed to reset. Reset moves the read index up to the
// current write index, so it can never race a byte being appended.
//
// Content is addressed relative to the read index: At(0) is the first byte
// received since the last Reset.
package rxbuf

import (
	"sync/atomic"
)

// DefaultSize is the capacity used when New is given a non-positive size.
const DefaultSize = 128

// Buffer is a bounded SPSC receive buffer.
type Buffer struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	dropped  atomic.Uint64
	readable chan struct{} // empty -> non-empty edge
}

// New allocates a buffer. size must be a power of two >= 2; a non-positive
// size selects DefaultSize.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	if size < 2 || (size&(size-1)) != 0 {
		panic("rxbuf: size must be power of two >= 2")
	}
	return &Buffer{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
	}
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Producer side

// Append stores one received byte. It never blocks; when the buffer is full
// the byte is dropped, counted, and false is returned.
func (b *Buffer) Append(c byte) bool {
	rd := b.rd.Load()
	wr := b.wr.Load()
	before := wr - rd
	if before >= uint32(len(b.buf)) {
		b.dropped.Add(1)
		return false
	}
	b.buf[wr&b.mask] = c
	b.wr.Store(wr + 1) // release

	if before == 0 {
		select {
		case b.readable <- struct{}{}:
		default:
		}
	}
	return true
}

// Write appends p byte by byte. It always reports len(p) so a reader pump
// can use it as an io.Writer; bytes beyond capacity are dropped.
func (b *Buffer) Write(p []byte) (int, error) {
	for _, c := range p {
		b.Append(c)
	}
	return len(p), nil
}

// Consumer side

// Len returns the number of bytes received since the last Reset.
func (b *Buffer) Len() int {
	rd := b.rd.Load()
	wr := b.wr.Load() // acquire
	return int(wr - rd)
}

// At returns the i-th byte since the last Reset. ok is false when fewer than
// i+1 bytes have arrived.
func (b *Buffer) At(i int) (c byte, ok bool) {
	if i < 0 {
		return 0, false
	}
	rd := b.rd.Load()
	wr := b.wr.Load()
	if uint32(i) >= wr-rd {
		return 0, false
	}
	return b.buf[(rd+uint32(i))&b.mask], true
}

// Bytes returns a copy of the content received since the last Reset.
func (b *Buffer) Bytes() []byte {
	rd := b.rd.Load()
	wr := b.wr.Load()
	n := wr - rd
	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		out[i] = b.buf[(rd+i)&b.mask]
	}
	return out
}

// Reset discards everything received so far.
func (b *Buffer) Reset() {
	b.rd.Store(b.wr.Load())
}

// Discard drops the first n bytes received since the last Reset. Unlike
// Reset it never touches bytes appended after a snapshot of length n was
// taken. n beyond Len discards everything.
func (b *Buffer) Discard(n int) {
	if n <= 0 {
		return
	}
	rd := b.rd.Load()
	wr := b.wr.Load()
	if uint32(n) > wr-rd {
		n = int(wr - rd)
	}
	b.rd.Store(rd + uint32(n))
}

// Dropped returns the number of bytes lost to overflow since creation.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Readable signals the empty to non-empty transition.
func (b *Buffer) Readable() <-chan struct{} { return b.readable }
