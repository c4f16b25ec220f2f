package fs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// RangeLockMode selects shared vs exclusive for both TryFlock and
// TryRangeLock.
type RangeLockMode int

const (
	RangeLockShared RangeLockMode = iota
	RangeLockExclusive
)

// TryFlock attempts a non-blocking whole-file advisory lock on f's
// descriptor, using flock(2) via [golang.org/x/sys/unix]. It returns
// [ErrWouldBlock] if a conflicting lock is held elsewhere.
//
// This is the cross-process coordination primitive a connection uses at
// close to find out whether it is the last holder of the log file and so
// performs the fold; it is
// deliberately independent of [Locker], which locks a separate,
// dedicated lock file rather than the caller's already-open descriptor.
func TryFlock(f File, mode RangeLockMode) error {
	how := unix.LOCK_SH
	if mode == RangeLockExclusive {
		how = unix.LOCK_EX
	}

	err := flockRetryEINTRUnix(int(f.Fd()), how|unix.LOCK_NB)
	if err != nil {
		if isWouldBlockUnix(err) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	return nil
}

// Flock acquires a blocking whole-file advisory lock on f's descriptor.
func Flock(f File, mode RangeLockMode) error {
	how := unix.LOCK_SH
	if mode == RangeLockExclusive {
		how = unix.LOCK_EX
	}

	if err := flockRetryEINTRUnix(int(f.Fd()), how); err != nil {
		return fmt.Errorf("flock: %w", err)
	}

	return nil
}

// Funlock releases a whole-file advisory lock taken with TryFlock or
// Flock.
func Funlock(f File) error {
	if err := flockRetryEINTRUnix(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock: %w", err)
	}

	return nil
}

// TryRangeLock attempts a non-blocking fcntl(2) byte-range advisory lock
// over [start, start+length) on f's descriptor, via F_SETLK. It returns
// [ErrWouldBlock] if the range is locked elsewhere.
//
// Byte-range locks let many independently-lockable sections share one
// underlying log file descriptor; flock alone can only lock the whole
// file.
func TryRangeLock(f File, mode RangeLockMode, start, length int64) error {
	lt := int16(unix.F_RDLCK)
	if mode == RangeLockExclusive {
		lt = unix.F_WRLCK
	}

	flk := unix.Flock_t{
		Type:   lt,
		Whence: 0, // SEEK_SET
		Start:  start,
		Len:    length,
	}

	err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flk)
	if err != nil {
		if isWouldBlockUnix(err) {
			return ErrWouldBlock
		}

		return fmt.Errorf("fcntl F_SETLK: %w", err)
	}

	return nil
}

// UnlockRange releases a byte-range lock previously taken with
// TryRangeLock over the same [start, start+length) range.
func UnlockRange(f File, start, length int64) error {
	flk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  start,
		Len:    length,
	}

	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flk); err != nil {
		return fmt.Errorf("fcntl F_UNLCK: %w", err)
	}

	return nil
}

// Pread reads len(buf) bytes from f at the given offset without
// affecting the descriptor's seek position, via pread(2). It loops
// internally to handle short reads, the same way this codebase's
// buffered I/O helpers loop on partial reads/writes.
func Pread(f File, buf []byte, offset int64) (int, error) {
	total := 0

	for total < len(buf) {
		n, err := unix.Pread(int(f.Fd()), buf[total:], offset+int64(total))
		if n > 0 {
			total += n
		}

		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return total, fmt.Errorf("pread: %w", err)
		}

		if n == 0 {
			break
		}
	}

	return total, nil
}

// Pwrite writes buf to f at the given offset without affecting the
// descriptor's seek position, via pwrite(2). It loops internally to
// handle short writes.
func Pwrite(f File, buf []byte, offset int64) (int, error) {
	total := 0

	for total < len(buf) {
		n, err := unix.Pwrite(int(f.Fd()), buf[total:], offset+int64(total))
		if n > 0 {
			total += n
		}

		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return total, fmt.Errorf("pwrite: %w", err)
		}

		if n == 0 {
			break
		}
	}

	return total, nil
}

func isWouldBlockUnix(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES)
}

// flockRetryEINTRUnix mirrors flockRetryEINTR in lock.go, but against the
// golang.org/x/sys/unix flock wrapper instead of syscall.Flock.
func flockRetryEINTRUnix(fd, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
