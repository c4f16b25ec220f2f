package logdb

import "errors"

// Sentinel errors are grouped the same way the on-disk format itself
// distinguishes failures: rebuild-class errors that mean the database (or
// an argument) cannot be used as given, and transient errors that mean
// "retry", never a caller-visible hard failure on their own.
var (
	// ErrCorrupt means a header, log entry, or record failed validation in
	// a way that is never silently repaired. Returned only from Open and
	// from iteration when a record's bounds don't fit its section.
	ErrCorrupt = errors.New("logdb: corrupt")

	// ErrIncompatible means the file exists and is well-formed but was
	// written by an incompatible version of this format.
	ErrIncompatible = errors.New("logdb: incompatible version")

	// ErrBusy means the operation could not proceed right now because of
	// contention with another goroutine or process. Internal retry loops
	// always absorb this; it only reaches a caller when a bounded retry
	// budget (e.g. the iterator's read-lease retry) has been exhausted.
	ErrBusy = errors.New("logdb: busy")

	// ErrClosed means the connection (or an iterator/transaction derived
	// from it) has already been closed.
	ErrClosed = errors.New("logdb: closed")

	// ErrInvalidArgument means a caller-supplied argument was invalid
	// (nil key, empty path, section size below the minimum, and so on).
	ErrInvalidArgument = errors.New("logdb: invalid argument")

	// ErrIO wraps an unexpected I/O failure from the underlying
	// filesystem. Use errors.Unwrap (or errors.Is against the wrapped
	// *os.PathError / syscall.Errno) to inspect the cause.
	ErrIO = errors.New("logdb: i/o error")

	// ErrFull means a write lease could not find (or extend) a section
	// with enough free space for the requested write.
	ErrFull = errors.New("logdb: no space left")

	// ErrOverflow means a record or a section's accounting would exceed
	// the limits in this package (see limits.go).
	ErrOverflow = errors.New("logdb: overflow")

	// ErrTxn means an operation was invalid given the current
	// transaction nesting state (e.g. Commit/Rollback with nothing open).
	ErrTxn = errors.New("logdb: invalid transaction state")
)
