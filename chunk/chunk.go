// Package chunk defines the tagged MEM/FILE fragment that a chunk queue
// links together to form one logical byte stream.
package chunk

import (
	"chunkqueue/buffer"
	"chunkqueue/platform"
)

// Tag identifies which variant of Chunk is populated.
type Tag int

const (
	Mem Tag = iota
	File
)

// RefChange is invoked with delta +1/-1 when a FILE chunk's fd is shared
// with, or released back to, an external owner instead of being closed
// directly. A nil RefChg means the chunk owns fd exclusively.
type RefChange func(ref any, delta int)

// Mmap describes an active (or previously active) mapping of a FILE
// chunk's backing region.
type Mmap struct {
	Start  []byte
	Offset int64
	Length int64
}

// Valid reports whether the mapping is currently active.
func (m *Mmap) Valid() bool { return m.Start != nil }

// Reset unmaps an active mapping (if any) and zeroes the window.
func (m *Mmap) Reset() {
	if m.Start != nil {
		_ = platform.Munmap(m.Start)
	}
	*m = Mmap{}
}

// FileState holds the fields relevant to a FILE-tagged chunk.
type FileState struct {
	FD     int
	Name   string
	Length int64
	IsTemp bool
	Ref    any
	RefChg RefChange
	Mmap   Mmap
}

// Chunk is one fragment of a chunk queue: either a MEM chunk backed by a
// buffer.Buffer, or a FILE chunk backed by an fd/length/offset window.
// Exactly one of Mem/File is meaningful at a time, selected by Tag.
type Chunk struct {
	Next *Chunk

	Tag    Tag
	Offset int64 // MEM: byte offset into Mem.Bytes(); FILE: byte offset into File

	Mem  *buffer.Buffer
	File FileState
}

// New returns a fresh MEM chunk with no backing buffer allocated yet.
func New() *Chunk {
	return &Chunk{Tag: Mem, Mem: buffer.New()}
}

// NewSize returns a fresh MEM chunk with a buffer pre-sized to sz.
func NewSize(sz int) *Chunk {
	return &Chunk{Tag: Mem, Mem: buffer.NewSize(sz)}
}

// RemainingLength reports how many unread bytes remain in this chunk.
func (c *Chunk) RemainingLength() int64 {
	switch c.Tag {
	case Mem:
		return int64(c.Mem.Len()) - c.Offset
	case File:
		return c.File.Length - c.Offset
	default:
		return 0
	}
}

// resetFile releases the FILE chunk's fd (closing it, unlinking a temp
// file, dropping the refcount, or unmapping an active mmap window) as
// appropriate, and restores zero values.
func (c *Chunk) resetFile() {
	f := &c.File
	f.Mmap.Reset()
	if f.RefChg != nil {
		f.RefChg(f.Ref, -1)
	} else if f.FD >= 0 {
		_ = platform.Close(f.FD)
	}
	if f.IsTemp && f.Name != "" {
		platform.Unlink(f.Name)
	}
	*f = FileState{FD: -1}
}

// Reset restores the chunk to a blank MEM chunk, releasing any FILE
// resources first. The backing Mem buffer (if present) is cleared but its
// allocation is retained for reuse.
func (c *Chunk) Reset() {
	if c.Tag == File {
		c.resetFile()
	}
	c.Tag = Mem
	c.Offset = 0
	if c.Mem != nil {
		c.Mem.Clear()
	}
	c.Next = nil
}

// Free releases all resources held by the chunk; the chunk must not be
// used afterward (unlike Reset, which leaves it ready for reuse).
func (c *Chunk) Free() {
	if c.Tag == File {
		c.resetFile()
	}
	c.Mem = nil
	c.Next = nil
}
