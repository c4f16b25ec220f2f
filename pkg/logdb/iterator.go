package logdb

import "fmt"

// Iterator walks every record in a database in section order, then
// key-insertion order within each section. There is no secondary index:
// this is the only way to read records back out.
//
// An Iterator is not safe for concurrent use; each call to [Conn.Iterate]
// returns an independent Iterator.
type Iterator struct {
	conn  *Conn
	index uint32
	lease *lease

	key, value []byte
	err        error
	done       bool
}

// Iterate returns a new Iterator positioned before the first record.
func (c *Conn) Iterate() *Iterator {
	return &Iterator{conn: c}
}

// Next advances to the next record, returning false at the end of the
// database or on error; check [Iterator.Err] to distinguish the two.
func (it *Iterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}

	for {
		if it.lease != nil {
			rec, ok, err := it.readNextRecord()
			if err != nil {
				it.err = err
				it.closeLease()

				return false
			}

			if ok {
				it.key, it.value = rec.key, rec.value

				return true
			}

			it.closeLease()
		}

		if !it.advanceSection() {
			return false
		}
	}
}

// advanceSection moves past zero-length sections until it finds one worth
// leasing, or reports there are none left. It returns false on both
// end-of-database and hard error; callers distinguish via it.err.
func (it *Iterator) advanceSection() bool {
	for {
		if it.index >= it.conn.log.count() {
			it.done = true

			return false
		}

		index := it.index
		it.index++

		validLen, ok, err := it.conn.log.readEntry(index)
		if err != nil {
			it.err = err

			return false
		}

		if !ok || validLen == 0 {
			continue
		}

		l, err := it.acquireReadRetry(index)
		if err != nil {
			it.err = err

			return false
		}

		it.lease = l

		return true
	}
}

// acquireReadRetry retries a section lease acquisition against momentary
// contention with a writer currently appending to the same section,
// bounding the retry so a stuck writer surfaces as ErrBusy rather than an
// iterator that spins forever.
func (it *Iterator) acquireReadRetry(index uint32) (*lease, error) {
	const maxRetries = 1000

	for range maxRetries {
		l, err := it.conn.acquireRead(index)
		if err == nil {
			return l, nil
		}

		if err != ErrBusy {
			return nil, err
		}
	}

	return nil, ErrBusy
}

type record struct {
	key, value []byte
}

// readNextRecord reads one record from the iterator's current lease,
// returning ok=false once the lease's snapshot length is exhausted. A
// record is never read across two leases (two sections).
func (it *Iterator) readNextRecord() (record, bool, error) {
	remaining := it.lease.validLen - it.lease.pos
	if remaining == 0 {
		return record{}, false, nil
	}

	if remaining < recordHeaderLen {
		return record{}, false, fmt.Errorf("%w: truncated record header in section %d", ErrCorrupt, it.lease.index)
	}

	hbuf := make([]byte, recordHeaderLen)

	n, err := it.lease.Read(hbuf)
	if err != nil {
		return record{}, false, err
	}

	if n < recordHeaderLen {
		return record{}, false, fmt.Errorf("%w: record header in section %d runs past the end of the data file", ErrCorrupt, it.lease.index)
	}

	keyLen, valueLen := decodeRecordHeader(hbuf)

	need := uint64(keyLen) + uint64(valueLen)
	if need > uint64(remaining-recordHeaderLen) {
		return record{}, false, fmt.Errorf("%w: record in section %d overruns its valid length", ErrCorrupt, it.lease.index)
	}

	body := make([]byte, need)
	if need > 0 {
		n, err := it.lease.Read(body)
		if err != nil {
			return record{}, false, err
		}

		if uint64(n) < need {
			return record{}, false, fmt.Errorf("%w: record in section %d runs past the end of the data file", ErrCorrupt, it.lease.index)
		}
	}

	return record{key: body[:keyLen:keyLen], value: body[keyLen:]}, true, nil
}

func (it *Iterator) closeLease() {
	if it.lease != nil {
		it.lease.Release()
		it.lease = nil
	}
}

// Key returns the most recent record's key, valid until the next call to
// Next.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the most recent record's value, valid until the next
// call to Next.
func (it *Iterator) Value() []byte {
	return it.value
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases any section lease the iterator currently holds. Callers
// that stop iterating before Next returns false should call Close to
// release the lock promptly rather than waiting for garbage collection.
func (it *Iterator) Close() {
	it.closeLease()
	it.done = true
}
