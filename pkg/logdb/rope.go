package logdb

import "sync/atomic"

// segment is one leaf of a Buffer: a byte slice plus an optional disposer
// and a refcount shared by every Buffer that currently references it.
type segment struct {
	data     []byte
	dispose  func()
	refcount *atomic.Int32
}

func (s *segment) retain() {
	s.refcount.Add(1)
}

func (s *segment) release() {
	if s.refcount.Add(-1) == 0 && s.dispose != nil {
		s.dispose()
	}
}

// Buffer is a reference-counted, appendable chain of byte segments — a
// rope. It exists so a record's header, key, and value can be composed
// into one logical byte stream without copying any of them until the
// moment they're actually written to a leased section.
//
// A Buffer is an immutable value once constructed: Append never mutates
// its arguments, it returns a new Buffer whose segment list is the
// concatenation of both. Both original Buffers remain valid and
// independently usable afterward — unlike the C rope this package is
// modeled on, which rewrites the tail node of its first argument in
// place, a Go Buffer cannot safely do that because a caller may still be
// holding (and reusing) the same Buffer value for another Put.
//
// Buffer is safe for concurrent use by multiple goroutines as long as
// each goroutine that calls Retain also calls a matching Free; the
// underlying segments are only released once every Buffer referencing
// them has done so.
type Buffer struct {
	segs   []*segment
	length int
}

// NewDirect wraps data in a new Buffer with a reference count of one,
// taking ownership of data. If disposer is non-nil, it is called exactly
// once, when the last reference to this data is freed. The caller must
// not mutate or reuse data after this call.
func NewDirect(data []byte, disposer func()) *Buffer {
	seg := &segment{data: data, dispose: disposer, refcount: new(atomic.Int32)}
	seg.refcount.Store(1)

	return &Buffer{segs: []*segment{seg}, length: len(data)}
}

// NewCopy wraps a copy of data in a new Buffer with a reference count of
// one. Unlike NewDirect, the caller may freely reuse data afterward.
func NewCopy(data []byte) *Buffer {
	cp := make([]byte, len(data))
	copy(cp, data)

	return NewDirect(cp, nil)
}

// Length returns the total length of all data held by this Buffer.
func (b *Buffer) Length() int {
	if b == nil {
		return 0
	}

	return b.length
}

// Data returns the Buffer's contents as a single contiguous slice,
// copying and flattening its segments if there is more than one. The
// returned slice must not be modified.
func (b *Buffer) Data() []byte {
	if b == nil {
		return nil
	}

	if len(b.segs) == 1 {
		return b.segs[0].data
	}

	out := make([]byte, 0, b.length)
	for _, s := range b.segs {
		out = append(out, s.data...)
	}

	return out
}

// Append returns a new Buffer whose contents are a followed by b. Neither
// input Buffer is modified, and both remain independently valid and
// usable. Passing a nil a returns b unmodified (retained); passing a nil
// or empty b returns a unmodified (retained).
func Append(a, b *Buffer) *Buffer {
	if b == nil || b.length == 0 {
		if a != nil {
			a.Retain()
		}

		return a
	}

	if a == nil || a.length == 0 {
		b.Retain()

		return b
	}

	segs := make([]*segment, 0, len(a.segs)+len(b.segs))
	segs = append(segs, a.segs...)
	segs = append(segs, b.segs...)

	for _, s := range segs {
		s.retain()
	}

	return &Buffer{segs: segs, length: a.length + b.length}
}

// Retain increments the Buffer's reference count. Every Retain must be
// matched by a Free.
func (b *Buffer) Retain() {
	if b == nil {
		return
	}

	for _, s := range b.segs {
		s.retain()
	}
}

// Free decrements the Buffer's reference count, releasing the underlying
// segments (and calling their disposers) once nothing references them
// anymore.
func (b *Buffer) Free() {
	if b == nil {
		return
	}

	for _, s := range b.segs {
		s.release()
	}
}

// writeTo calls write(segment) for each segment in order, in enough
// pieces to let the caller perform positional writes without flattening
// the rope into one allocation first.
func (b *Buffer) writeTo(write func([]byte) error) error {
	if b == nil {
		return nil
	}

	for _, s := range b.segs {
		if len(s.data) == 0 {
			continue
		}

		if err := write(s.data); err != nil {
			return err
		}
	}

	return nil
}
