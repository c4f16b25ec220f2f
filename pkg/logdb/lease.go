package logdb

import (
	"fmt"

	fsx "github.com/chkn/logdb/internal/fs"
)

// lease is a caller's pinned access to one section of the data file. A
// read lease snapshots the section's valid length at acquire time and
// never sees bytes appended after that; a write lease owns the section
// exclusively until Release and knows how many bytes were already valid
// so Write only appends past them.
type lease struct {
	conn      *Conn
	index     uint32
	exclusive bool
	validLen  uint32 // snapshot at acquire (read) or before-write length (write)
	pos       uint32 // current read/write cursor within the section, relative to validLen
	released  bool
}

// acquireRead takes a shared lease on section index, pinning its current
// valid length. It also takes a shared hold on the connection's close
// latch, so Close cannot fold the log out from under an outstanding
// reader.
func (c *Conn) acquireRead(index uint32) (*lease, error) {
	c.closeLatch.RLock()

	if c.closed.Load() {
		c.closeLatch.RUnlock()

		return nil, ErrClosed
	}

	if err := c.log.lockSection(index, false); err != nil {
		c.closeLatch.RUnlock()

		return nil, err
	}

	validLen, _, err := c.log.readEntry(index)
	if err != nil {
		c.log.unlockSection(index, false)
		c.closeLatch.RUnlock()

		return nil, err
	}

	return &lease{conn: c, index: index, exclusive: false, validLen: validLen}, nil
}

// acquireWrite finds a section with at least need bytes of free tail
// space and takes an exclusive lease on it, per the walk-then-append
// algorithm in SPEC_FULL.md §4.4: examine up to leaseMaxWalk of the most
// recently created sections; if none has room, append a brand new
// zero-valued section and use that.
func (c *Conn) acquireWrite(need uint32) (*lease, error) {
	c.closeLatch.RLock()

	if c.closed.Load() {
		c.closeLatch.RUnlock()

		return nil, ErrClosed
	}

	if need > c.sectionSize {
		c.closeLatch.RUnlock()

		return nil, fmt.Errorf("%w: record of %d bytes exceeds section size %d", ErrOverflow, need, c.sectionSize)
	}

	for {
		l, err := c.tryAcquireWriteFromWalk(need)
		if err == nil {
			return l, nil
		}

		if err != errWalkMiss {
			c.closeLatch.RUnlock()

			return nil, err
		}

		l, err = c.tryAcquireWriteNewSection(need)
		if err == nil {
			return l, nil
		}

		if err != ErrBusy {
			c.closeLatch.RUnlock()

			return nil, err
		}

		// Another goroutine/process won the race to append or lock the
		// new section; loop back and walk again.
	}
}

// errWalkMiss is an internal sentinel meaning the backward walk found no
// section with enough room, distinct from a hard error during the walk.
var errWalkMiss = fmt.Errorf("%w: walk exhausted", ErrBusy)

func (c *Conn) tryAcquireWriteFromWalk(need uint32) (*lease, error) {
	total := c.log.count()
	if total == 0 {
		return nil, errWalkMiss
	}

	steps := uint32(leaseMaxWalk)
	if steps > total {
		steps = total
	}

	for i := uint32(0); i < steps; i++ {
		index := total - 1 - i

		validLen, ok, err := c.log.readEntry(index)
		if err != nil {
			return nil, err
		}

		if !ok || c.sectionSize-validLen < need {
			continue
		}

		if err := c.log.lockSection(index, true); err != nil {
			if err == ErrBusy {
				continue
			}

			return nil, err
		}

		// Re-validate under lock: another writer may have grown this
		// section between our unlocked read and taking the lock.
		revalidated, ok, err := c.log.readEntry(index)
		if err != nil {
			c.log.unlockSection(index, true)

			return nil, err
		}

		if !ok || c.sectionSize-revalidated < need {
			c.log.unlockSection(index, true)

			continue
		}

		return &lease{conn: c, index: index, exclusive: true, validLen: revalidated}, nil
	}

	return nil, errWalkMiss
}

func (c *Conn) tryAcquireWriteNewSection(need uint32) (*lease, error) {
	index, err := c.log.appendEntry()
	if err != nil {
		return nil, err
	}

	if err := c.log.lockSection(index, true); err != nil {
		return nil, err
	}

	return &lease{conn: c, index: index, exclusive: true, validLen: 0}, nil
}

// sectionOffset returns the byte offset of a section's first byte in the
// data file, matching the original format's connection_offset helper.
func (c *Conn) sectionOffset(index uint32) int64 {
	return int64(dataHeaderLen) + int64(index)*int64(c.sectionSize)
}

// Read reads up to len(buf) bytes starting at the lease's current cursor,
// never past the lease's pinned valid length.
func (l *lease) Read(buf []byte) (int, error) {
	if l.released {
		return 0, ErrClosed
	}

	remaining := l.validLen - l.pos
	if remaining == 0 {
		return 0, nil
	}

	n := uint32(len(buf))
	if n > remaining {
		n = remaining
	}

	offset := l.conn.sectionOffset(l.index) + int64(l.pos)

	read, err := fsx.Pread(l.conn.dataFile, buf[:n], offset)
	if err != nil {
		return read, fmt.Errorf("%w: read section %d: %w", ErrIO, l.index, err)
	}

	l.pos += uint32(read)

	return read, nil
}

// Write appends buf at the lease's current cursor, which starts at the
// section's pre-write valid length and only ever moves forward; a write
// lease never overwrites bytes that were valid when it was acquired.
func (l *lease) Write(buf []byte) (int, error) {
	if l.released {
		return 0, ErrClosed
	}

	if !l.exclusive {
		return 0, fmt.Errorf("%w: write on a read lease", ErrInvalidArgument)
	}

	if l.validLen+l.pos+uint32(len(buf)) > l.conn.sectionSize {
		return 0, fmt.Errorf("%w: write would exceed section size", ErrOverflow)
	}

	offset := l.conn.sectionOffset(l.index) + int64(l.validLen) + int64(l.pos)

	n, err := fsx.Pwrite(l.conn.dataFile, buf, offset)
	if err != nil {
		return n, fmt.Errorf("%w: write section %d: %w", ErrIO, l.index, err)
	}

	l.pos += uint32(n)

	return n, nil
}

// Seek repositions the lease's cursor relative to the start of its
// section's valid (read lease) or writable (write lease) region.
func (l *lease) Seek(pos uint32) {
	l.pos = pos
}

// commitLen returns the total valid length this write lease's section
// will have once its pending bytes are made durable.
func (l *lease) commitLen() uint32 {
	return l.validLen + l.pos
}

// Release drops the lease's kernel and in-process locks and its shared
// hold on the connection close latch (read and write leases both take
// one). Releasing a write
// lease does not itself publish its bytes — the caller must have already
// written the section's log entry via the section log before releasing.
func (l *lease) Release() {
	if l.released {
		return
	}

	l.released = true
	l.conn.log.unlockSection(l.index, l.exclusive)
	l.conn.closeLatch.RUnlock()
}
