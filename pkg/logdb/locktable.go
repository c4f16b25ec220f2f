package logdb

import "sync/atomic"

// lockTable is a lock-free, in-process reader/writer lock keyed by section
// index. It exists purely to make the kernel fcntl byte-range lock on the
// log file safe to share across multiple goroutines in one process: a
// single process holds one file descriptor, and fcntl locks are per
// (process, inode) — not per file descriptor — so two goroutines in the
// same process taking conflicting fcntl locks on the same range would not
// block each other at the kernel level. This table makes that conflict
// visible before the fcntl call ever happens.
//
// Locking architecture:
//  1. A caller must win lockTable.tryAcquire for its section index BEFORE
//     attempting the kernel fcntl range lock. Otherwise a second goroutine
//     in this process could "steal" the section out from under the first
//     by taking (and later releasing) the same fcntl range.
//  2. Once both the in-process slot and the fcntl range lock are held,
//     the section is safe to read or write positionally.
//  3. Release always reverses the order: drop the fcntl range lock, then
//     release the in-process slot.
//
// Sections are tracked in fixed-size pages of lockPageSlots entries each,
// chained in a singly linked list installed with compare-and-swap. A page
// covers an aligned block of lockPageSlots indices and is created lazily
// the first time a section index outside any existing page's range is
// requested; existing pages are never removed. Each slot
// is a signed counter: 0 means free, a positive value is the number of
// current readers, -1 means a writer holds it.
type lockTable struct {
	head atomic.Pointer[lockPage]
}

type lockPage struct {
	startIndex uint32
	slots      [lockPageSlots]atomic.Int32
	next       atomic.Pointer[lockPage]
}

// tryAcquire attempts to take a reader (exclusive=false) or writer
// (exclusive=true) in-process lock on the given section index. It never
// blocks: it returns false immediately if the slot is unavailable, so
// callers can decide how (or whether) to retry.
func (t *lockTable) tryAcquire(index uint32, exclusive bool) bool {
	dest := &t.head

	for {
		page := dest.Load()

		if page == nil || page.startIndex > index {
			newPage := &lockPage{startIndex: index - index%lockPageSlots}
			newPage.next.Store(page)

			if dest.CompareAndSwap(page, newPage) {
				page = newPage
			} else {
				continue
			}
		}

		offset := index - page.startIndex
		if offset >= lockPageSlots {
			dest = &page.next

			continue
		}

		return tryAcquireSlot(&page.slots[offset], exclusive)
	}
}

func tryAcquireSlot(slot *atomic.Int32, exclusive bool) bool {
	for {
		cur := slot.Load()

		if exclusive {
			if cur != 0 {
				return false
			}

			if slot.CompareAndSwap(0, -1) {
				return true
			}

			continue
		}

		if cur < 0 {
			return false
		}

		if slot.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release reverses a prior successful tryAcquire for the same index and
// lock kind. Calling it without a matching tryAcquire is a programming
// error in this package and will corrupt the slot's state.
func (t *lockTable) release(index uint32, exclusive bool) {
	page := t.head.Load()

	for page != nil && index-page.startIndex >= lockPageSlots {
		page = page.next.Load()
	}

	if page == nil {
		return
	}

	slot := &page.slots[index-page.startIndex]
	if exclusive {
		slot.Add(1)
	} else {
		slot.Add(-1)
	}
}
