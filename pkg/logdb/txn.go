package logdb

import (
	"context"
	"fmt"
)

type txnKey struct{}

// txnState is the single context value this package installs; nested
// Begin calls mutate its cur field rather than installing a new context
// value each time, so a context returned once from the outermost Begin
// keeps working across every nested Begin/Commit/Rollback on it.
type txnState struct {
	cur *txn
}

// txn is one level of transaction nesting. Its rope accumulates every Put
// made directly against it; Commit either splices that rope into the
// parent transaction (nested commit) or writes it durably (outermost
// commit).
type txn struct {
	parent *txn
	rope   *Buffer
}

// Begin starts a new transaction nested inside whatever transaction is
// already open on ctx, if any, and returns a context carrying it. Nesting
// replaces the original C API's thread-local transaction stack — see the
// package doc's "Transactions" section.
func (c *Conn) Begin(ctx context.Context) context.Context {
	st, ok := ctx.Value(txnKey{}).(*txnState)
	if !ok {
		st = &txnState{}
		ctx = context.WithValue(ctx, txnKey{}, st)
	}

	st.cur = &txn{parent: st.cur}

	return ctx
}

func currentTxn(ctx context.Context) *txnState {
	st, _ := ctx.Value(txnKey{}).(*txnState)

	return st
}

// recordRope encodes a (key, value) pair as a single record: an 8-byte
// header followed by the key then the value, in one contiguous
// allocation owned by the returned Buffer.
func recordRope(key, value []byte) *Buffer {
	total := recordHeaderLen + len(key) + len(value)
	buf := make([]byte, total)

	copy(buf, encodeRecordHeader(uint32(len(key)), uint32(len(value)))) //nolint:gosec // bounds checked by Put
	copy(buf[recordHeaderLen:], key)
	copy(buf[recordHeaderLen+len(key):], value)

	return NewDirect(buf, nil)
}

// Put appends a (key, value) record to the transaction open on ctx. If
// none is open, Put runs inside an implicit transaction that is committed
// (or rolled back on error) before Put returns, matching
// logdb_txn_commit_implicit's "always close, whichever way" rule.
func (c *Conn) Put(ctx context.Context, key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}

	if uint64(len(key)) > maxKeyLen || uint64(len(value)) > maxValueLen {
		return fmt.Errorf("%w: record exceeds key/value length limit", ErrOverflow)
	}

	st := currentTxn(ctx)
	if st == nil || st.cur == nil {
		implicit := c.Begin(ctx)

		if err := c.Put(implicit, key, value); err != nil {
			_ = c.Rollback(implicit)

			return err
		}

		return c.Commit(implicit)
	}

	buffered := uint64(recordHeaderLen + len(key) + len(value))
	for t := st.cur; t != nil; t = t.parent {
		buffered += uint64(t.rope.Length())
	}

	if buffered > maxTxnBufferedBytes {
		return fmt.Errorf("%w: transaction buffers more than %d bytes", ErrOverflow, maxTxnBufferedBytes)
	}

	rope := recordRope(key, value)

	old := st.cur.rope
	st.cur.rope = Append(old, rope)
	old.Free()
	rope.Free()

	return nil
}

// Commit commits the transaction open on ctx. A nested transaction's
// buffered writes are spliced into the enclosing one and become durable
// only when that one commits; the outermost transaction's writes are made
// durable immediately: acquire a write lease sized to the buffered rope,
// write it, optionally fsync the data file, write the section's log
// entry, optionally fsync the log file, release the lease. A transaction
// is only durable once its log entry write lands.
func (c *Conn) Commit(ctx context.Context) error {
	st := currentTxn(ctx)
	if st == nil || st.cur == nil {
		return fmt.Errorf("%w: commit with no open transaction", ErrTxn)
	}

	t := st.cur

	if t.parent != nil {
		old := t.parent.rope
		t.parent.rope = Append(old, t.rope)
		old.Free()
		t.rope.Free()
		st.cur = t.parent

		return nil
	}

	err := c.commitOutermost(t.rope)
	t.rope.Free()
	st.cur = nil

	return err
}

// Rollback discards the transaction open on ctx, including any nested
// transactions already committed into it. An enclosing transaction, if
// any, remains open and unaffected.
func (c *Conn) Rollback(ctx context.Context) error {
	st := currentTxn(ctx)
	if st == nil || st.cur == nil {
		return fmt.Errorf("%w: rollback with no open transaction", ErrTxn)
	}

	t := st.cur
	t.rope.Free()
	st.cur = t.parent

	return nil
}

func (c *Conn) commitOutermost(rope *Buffer) error {
	length := rope.Length()
	if length == 0 {
		return nil
	}

	l, err := c.acquireWrite(uint32(length)) //nolint:gosec // bounded by section size in acquireWrite
	if err != nil {
		return err
	}
	defer l.Release()

	writeErr := rope.writeTo(func(b []byte) error {
		_, err := l.Write(b)

		return err
	})
	if writeErr != nil {
		return writeErr
	}

	if c.sync {
		if err := c.dataFile.Sync(); err != nil {
			return fmt.Errorf("%w: sync data file: %w", ErrIO, err)
		}
	}

	if err := c.log.writeEntry(l.index, l.commitLen()); err != nil {
		return err
	}

	if c.sync {
		if err := c.log.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync log file: %w", ErrIO, err)
		}
	}

	return nil
}
