package logdb

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	fsx "github.com/chkn/logdb/internal/fs"
)

// OpenFlags controls how [Open] treats a database's data file.
type OpenFlags int

const (
	// Existing requires the data file to already exist and be valid.
	Existing OpenFlags = 0

	// Create creates the data file (and its fresh header) if it does not
	// already exist.
	Create OpenFlags = 1 << 0

	// Truncate, combined with Create, overwrites an existing-but-invalid
	// data file with a fresh one instead of returning [ErrCorrupt].
	// Supplemented from the original C API's LOGDB_OPEN_TRUNCATE flag.
	Truncate OpenFlags = 1 << 1
)

// Options configures [Open].
type Options struct {
	// Flags selects create/truncate behavior. The zero value, Existing,
	// requires the database to already exist.
	Flags OpenFlags

	// SectionSize sets the size in bytes of each section when creating a
	// new database. Zero means defaultSectionSize. Ignored when opening
	// an existing database, whose section size is fixed at creation.
	SectionSize uint32

	// Sync, when true, fsyncs the data file after every write and the log
	// file after every log entry update. When false (the default),
	// durability relies on the operating system's own write-back timing.
	Sync bool

	// Trace, if non-nil, receives human-readable diagnostic messages the
	// way the original's VLOG build-tag macro did, without requiring a
	// structured-logging dependency. CLI tools wire this to log.Printf
	// when run with -v.
	Trace func(string, ...any)

	// FS overrides the filesystem implementation, for tests that need
	// fault injection. Nil means [fsx.NewReal].
	FS fsx.FS
}

// Conn is an open connection to a LogDB database. A Conn is safe for
// concurrent use by any number of goroutines; see the package doc's
// "Concurrency" section. Opening more than one Conn on the same path from
// within a single process is not supported.
type Conn struct {
	fsys fsx.FS
	path string

	dataFile fsx.File
	log      *sectionLog

	sectionSize uint32
	version     uint16
	sync        bool
	trace       func(string, ...any)

	// closeLatch is held shared by every outstanding lease and exclusive
	// by Close, so a fold never runs while a lease is still outstanding.
	closeLatch sync.RWMutex
	closed     atomic.Bool
}

// Open opens or creates a database at path. The sidecar log file lives
// alongside it at path+"-log".
func Open(path string, opts Options) (*Conn, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fsx.NewReal()
	}

	sectionSize := opts.SectionSize
	if sectionSize == 0 {
		sectionSize = defaultSectionSize
	}

	if sectionSize < minSectionSize {
		return nil, fmt.Errorf("%w: section size %d below minimum %d", ErrInvalidArgument, sectionSize, minSectionSize)
	}

	trace := opts.Trace
	if trace == nil {
		trace = func(string, ...any) {}
	}

	dataFile, header, err := openOrCreateData(fsys, path, opts.Flags, sectionSize)
	if err != nil {
		return nil, err
	}

	log, err := openOrAdoptLog(fsys, logPathFor(path), dataFile)
	if err != nil {
		_ = dataFile.Close()

		return nil, err
	}

	c := &Conn{
		fsys:        fsys,
		path:        path,
		dataFile:    dataFile,
		log:         log,
		sectionSize: header.sectionSize,
		version:     header.version,
		sync:        opts.Sync,
		trace:       trace,
	}

	trace("logdb: opened %s (section size %d, version %d)", path, c.sectionSize, c.version)

	return c, nil
}

func openOrCreateData(fsys fsx.FS, path string, flags OpenFlags, sectionSize uint32) (fsx.File, dataHeader, error) {
	osFlags := os.O_RDWR
	if flags&Create != 0 {
		osFlags |= os.O_CREATE
	}

	f, err := fsys.OpenFile(path, osFlags, 0o600)
	if err != nil {
		return nil, dataHeader{}, fmt.Errorf("%w: open data file: %w", ErrIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, dataHeader{}, fmt.Errorf("%w: stat data file: %w", ErrIO, err)
	}

	if info.Size() == 0 {
		if flags&Create == 0 {
			_ = f.Close()

			return nil, dataHeader{}, fmt.Errorf("%w: database does not exist", ErrInvalidArgument)
		}

		h := dataHeader{version: fileVersion2, sectionSize: sectionSize}

		if _, err := fsx.Pwrite(f, encodeDataHeader(h), 0); err != nil {
			_ = f.Close()

			return nil, dataHeader{}, fmt.Errorf("%w: write data header: %w", ErrIO, err)
		}

		return f, h, nil
	}

	hbuf := make([]byte, dataHeaderLen)
	if _, err := fsx.Pread(f, hbuf, 0); err != nil {
		_ = f.Close()

		return nil, dataHeader{}, fmt.Errorf("%w: read data header: %w", ErrIO, err)
	}

	h, err := decodeDataHeader(hbuf)
	if err != nil {
		if flags&Create != 0 && flags&Truncate != 0 {
			return recreateDataHeader(f, sectionSize)
		}

		_ = f.Close()

		return nil, dataHeader{}, err
	}

	return f, h, nil
}

func recreateDataHeader(f fsx.File, sectionSize uint32) (fsx.File, dataHeader, error) {
	t, ok := f.(truncater)
	if !ok {
		_ = f.Close()

		return nil, dataHeader{}, fmt.Errorf("%w: data file does not support truncate", ErrIO)
	}

	if err := t.Truncate(0); err != nil {
		_ = f.Close()

		return nil, dataHeader{}, fmt.Errorf("%w: truncate invalid data file: %w", ErrIO, err)
	}

	h := dataHeader{version: fileVersion2, sectionSize: sectionSize}

	if _, err := fsx.Pwrite(f, encodeDataHeader(h), 0); err != nil {
		_ = f.Close()

		return nil, dataHeader{}, fmt.Errorf("%w: write data header: %w", ErrIO, err)
	}

	return f, h, nil
}

// openOrAdoptLog decides this connection's relationship to the sidecar
// log file: the connection that wins the race to create it owns building
// it (from a fold trailer or empty), every connection (owner or not)
// holds a shared flock on it for the duration of the connection, and a
// rare race where a closer unlinks the log between our failed create and
// our subsequent open is retried from the top.
func openOrAdoptLog(fsys fsx.FS, logPath string, dataFile fsx.File) (*sectionLog, error) {
	for {
		sl, err := createSectionLog(fsys, logPath, dataFile)
		if err == nil {
			return lockAndReturn(sl)
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		sl, err = openSectionLog(fsys, logPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, err
		}

		return lockAndReturn(sl)
	}
}

func lockAndReturn(sl *sectionLog) (*sectionLog, error) {
	if err := fsx.Flock(sl.file, fsx.RangeLockShared); err != nil {
		_ = sl.close()

		return nil, fmt.Errorf("%w: lock log file: %w", ErrIO, err)
	}

	return sl, nil
}

// Path returns the path this connection was opened with.
func (c *Conn) Path() string {
	return c.path
}

// SectionSize returns the database's fixed section size in bytes.
func (c *Conn) SectionSize() uint32 {
	return c.sectionSize
}

// SectionCount returns the number of sections the database currently
// tracks, including any that are empty.
func (c *Conn) SectionCount() uint32 {
	return c.log.count()
}

// Close closes the connection. If this connection turns out to be the
// last one with the log file open (it wins a non-blocking upgrade of its
// shared flock to exclusive), it performs fold-on-close: trailing
// wholly-empty sections are trimmed, the log is folded into the data
// file's new end plus a trailer, and the sidecar log is unlinked.
// Otherwise it just closes its own descriptors.
//
// Unlike the original C API, Close does not roll back any particular
// goroutine's open transactions — transactions here are scoped to a
// [context.Context] value, not a goroutine, so there is no "the calling
// goroutine's transactions" for Close to identify. A context whose
// transaction was never committed or rolled back simply leaks it, the
// same way the original leaks a transaction left open on a thread other
// than the one that calls close.
func (c *Conn) Close() error {
	c.closeLatch.Lock()
	defer c.closeLatch.Unlock()

	if c.closed.Swap(true) {
		return ErrClosed
	}

	var closeErr error

	switch err := fsx.TryFlock(c.log.file, fsx.RangeLockExclusive); {
	case err == nil:
		if foldErr := c.log.closeFold(c.dataFile, c.sectionSize); foldErr != nil {
			closeErr = foldErr
		}
	case errors.Is(err, fsx.ErrWouldBlock):
		if clErr := c.log.close(); clErr != nil {
			closeErr = clErr
		}
	default:
		closeErr = err
	}

	if err := c.dataFile.Close(); err != nil && closeErr == nil {
		closeErr = fmt.Errorf("%w: close data file: %w", ErrIO, err)
	}

	c.trace("logdb: closed %s", c.path)

	return closeErr
}
