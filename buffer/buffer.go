// Package buffer provides a growable byte container with explicit
// length/capacity tracking and a guaranteed trailing sentinel byte, the way
// a C string buffer keeps one extra NUL beyond its logical content.
package buffer

const minCap = 64

// Buffer is an owned, growable byte region. used counts logical content
// bytes plus one trailing sentinel byte; used == 0 means blank (no content,
// independent of whatever capacity is already allocated).
type Buffer struct {
	buf  []byte
	used int
}

// New returns a blank Buffer with no backing allocation.
func New() *Buffer {
	return &Buffer{}
}

// NewSize returns a blank Buffer with capacity rounded up to the next power
// of two of at least sz (minimum 64).
func NewSize(sz int) *Buffer {
	if sz <= 0 {
		return New()
	}
	return &Buffer{buf: make([]byte, roundCap(sz))}
}

func roundCap(want int) int {
	n := minCap
	for n < want {
		n <<= 1
	}
	return n
}

// Len returns the logical content length, excluding the sentinel byte.
func (b *Buffer) Len() int {
	if b.used == 0 {
		return 0
	}
	return b.used - 1
}

// Cap returns the backing allocation size.
func (b *Buffer) Cap() int { return len(b.buf) }

// IsBlank reports whether the buffer currently holds zero content.
func (b *Buffer) IsBlank() bool { return b.used == 0 }

// Bytes returns the content view; it aliases the buffer's storage.
func (b *Buffer) Bytes() []byte {
	if b.used == 0 {
		return nil
	}
	return b.buf[:b.used-1]
}

func (b *Buffer) String() string { return string(b.Bytes()) }

// Space returns the number of bytes that can be appended without growing.
func (b *Buffer) Space() int {
	if b.used == 0 {
		return len(b.buf)
	}
	return len(b.buf) - b.used
}

// Clear resets the content to blank, keeping the current allocation.
func (b *Buffer) Clear() { b.used = 0 }

func (b *Buffer) grow(extra int) {
	need := b.Len() + extra + 1
	if need <= len(b.buf) {
		return
	}
	nb := make([]byte, roundCap(need))
	copy(nb, b.Bytes())
	b.buf = nb
}

// Truncate shortens the buffer to n content bytes and rewrites the
// sentinel. n must not exceed the current length.
func (b *Buffer) Truncate(n int) {
	if n <= 0 {
		b.used = 0
		return
	}
	b.grow(0)
	b.used = n + 1
	b.buf[n] = 0
}

// AppendBytes appends p to the content, growing the backing array as
// needed.
func (b *Buffer) AppendBytes(p []byte) {
	if len(p) == 0 {
		if b.used == 0 {
			if len(b.buf) == 0 {
				b.buf = make([]byte, minCap)
			}
			b.buf[0] = 0
			b.used = 1
		}
		return
	}
	cur := b.Len()
	b.grow(len(p))
	copy(b.buf[cur:], p)
	b.used = cur + len(p) + 1
	b.buf[cur+len(p)] = 0
}

// Extend grows the content by n bytes, commits the new length immediately
// and returns the (uninitialized) newly reserved region for the caller to
// fill in place.
func (b *Buffer) Extend(n int) []byte {
	cur := b.Len()
	b.grow(n)
	b.used = cur + n + 1
	b.buf[cur+n] = 0
	return b.buf[cur : cur+n]
}

// Tail returns the writable region beyond the current content without
// committing it. Pair with Commit once the caller knows how much was
// actually written.
func (b *Buffer) Tail() []byte {
	if b.used == 0 {
		return b.buf
	}
	return b.buf[b.used-1:]
}

// Commit advances the logical length by n bytes previously written into
// the slice returned by Tail.
func (b *Buffer) Commit(n int) {
	if n <= 0 {
		return
	}
	cur := b.Len()
	b.used = cur + n + 1
	b.buf[cur+n] = 0
}

// ShiftLeft discards the first offset bytes by moving the remainder to the
// front of the backing array in place, without reallocating.
func (b *Buffer) ShiftLeft(offset int) {
	if offset <= 0 {
		return
	}
	n := b.Len() - offset
	copy(b.buf, b.buf[offset:offset+n])
	b.Truncate(n)
}

// Move transfers ownership of src's storage into dst in O(1) and clears
// src, the swap-based transfer pattern used to hand a filled buffer to a
// fresh chunk without copying.
func (dst *Buffer) Move(src *Buffer) {
	dst.buf, src.buf = src.buf, dst.buf
	dst.used, src.used = src.used, dst.used
	src.Clear()
}

// SwapWith exchanges the underlying storage of b and other in O(1) without
// clearing either side.
func (b *Buffer) SwapWith(other *Buffer) {
	b.buf, other.buf = other.buf, b.buf
	b.used, other.used = other.used, b.used
}
