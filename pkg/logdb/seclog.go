package logdb

import (
	"errors"
	"fmt"
	"os"

	fsx "github.com/chkn/logdb/internal/fs"
)

// logFileSuffix is appended to a database's path to derive its sidecar
// log file's path.
const logFileSuffix = "-log"

func logPathFor(dataPath string) string {
	return dataPath + logFileSuffix
}

// sectionLog is the sidecar file recording how many bytes of each section
// of the data file are currently valid. It also owns the in-process lock
// table that makes the kernel byte-range locks on this file safe to share
// across goroutines within one process.
type sectionLog struct {
	fsys    fsx.FS
	file    fsx.File
	path    string
	version uint16

	numEntries atomicUint32
	table      lockTable
}

func (l *sectionLog) entryWidth() int64 {
	if l.version == fileVersion1 {
		return 2
	}

	return 4
}

func (l *sectionLog) count() uint32 {
	return l.numEntries.Load()
}

func (l *sectionLog) entryOffset(index uint32) int64 {
	return logHeaderLen + int64(index)*l.entryWidth()
}

// indexFromOffset returns the section index whose log entry covers the
// given byte offset into the log file.
func (l *sectionLog) indexFromOffset(offset int64) uint32 {
	if offset < logHeaderLen {
		return 0
	}

	return uint32((offset - logHeaderLen) / l.entryWidth())
}

// openSectionLog opens an existing, already-created sidecar log file and
// validates its header.
func openSectionLog(fsys fsx.FS, path string) (*sectionLog, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open log file: %w", ErrIO, err)
	}

	hbuf := make([]byte, logHeaderLen)
	if _, err := fsx.Pread(f, hbuf, 0); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("%w: read log header: %w", ErrIO, err)
	}

	h, err := decodeLogHeader(hbuf)
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("%w: stat log file: %w", ErrIO, err)
	}

	width := int64(2)
	if h.version != fileVersion1 {
		width = 4
	}

	entries := uint32((info.Size() - logHeaderLen) / width)

	l := &sectionLog{fsys: fsys, file: f, path: path, version: h.version}
	l.numEntries.Store(entries)

	return l, nil
}

// createSectionLog creates a new sidecar log file for dataFile, which is
// already open. If dataFile carries a valid fold trailer at its end (see
// [trailer]), the new log is reconstructed from the folded image rather
// than starting empty — this is what lets a database survive a prior
// close/fold even if the sidecar log was separately deleted. Otherwise
// the new log starts with zero sections, treating the whole data file as
// containing no valid records (design note 2 in SPEC_FULL.md).
func createSectionLog(fsys fsx.FS, logPath string, dataFile fsx.File) (*sectionLog, error) {
	header := logHeader{version: fileVersion2, numEntries: 0}

	var entries []byte

	if recovered, recoveredEntries, ok := recoverFoldedLog(dataFile); ok {
		header = recovered
		entries = recoveredEntries
	}

	f, err := fsys.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create log file: %w", ErrIO, err)
	}

	// Write the entry body before the header. If the process crashes here,
	// the next open finds a log file whose header fails to validate and
	// discards it, rather than a log that looks valid but is missing data.
	if len(entries) > 0 {
		if _, err := fsx.Pwrite(f, entries, logHeaderLen); err != nil {
			_ = f.Close()
			_ = fsys.Remove(logPath)

			return nil, fmt.Errorf("%w: write log entries: %w", ErrIO, err)
		}
	}

	if os.Getenv("LOGDB_TEST_LOG_CREATE_RETURN_EARLY") != "" {
		_ = f.Close()

		return nil, fmt.Errorf("%w: LOGDB_TEST_LOG_CREATE_RETURN_EARLY is set", ErrIO)
	}

	if _, err := fsx.Pwrite(f, encodeLogHeader(header), 0); err != nil {
		_ = f.Close()
		_ = fsys.Remove(logPath)

		return nil, fmt.Errorf("%w: write log header: %w", ErrIO, err)
	}

	l := &sectionLog{fsys: fsys, file: f, path: logPath, version: header.version}
	l.numEntries.Store(uint32(len(entries)) / uint32(l.entryWidth()))

	return l, nil
}

// recoverFoldedLog looks for a valid fold trailer at the end of dataFile
// and, if found, returns the log header and raw entry bytes folded there
// by a prior Close. ok is false if no trailer is present or it fails to
// validate, in which case the caller should start a fresh, empty log.
func recoverFoldedLog(dataFile fsx.File) (logHeader, []byte, bool) {
	info, err := dataFile.Stat()
	if err != nil || info.Size() < dataHeaderLen+trailerLen {
		return logHeader{}, nil, false
	}

	trailerBuf := make([]byte, trailerLen)
	if _, err := fsx.Pread(dataFile, trailerBuf, info.Size()-trailerLen); err != nil {
		return logHeader{}, nil, false
	}

	tr, ok := decodeTrailer(trailerBuf)
	if !ok {
		return logHeader{}, nil, false
	}

	start := info.Size() - int64(tr.logOffset)
	if start < dataHeaderLen || start > info.Size()-trailerLen {
		return logHeader{}, nil, false
	}

	bodyLen := info.Size() - trailerLen - start
	if bodyLen < logHeaderLen {
		return logHeader{}, nil, false
	}

	body := make([]byte, bodyLen)
	if _, err := fsx.Pread(dataFile, body, start); err != nil {
		return logHeader{}, nil, false
	}

	h, err := decodeLogHeader(body[:logHeaderLen])
	if err != nil {
		return logHeader{}, nil, false
	}

	return h, body[logHeaderLen:], true
}

func (l *sectionLog) readEntry(index uint32) (validLen uint32, ok bool, err error) {
	if index >= l.numEntries.Load() {
		return 0, false, nil
	}

	width := l.entryWidth()
	buf := make([]byte, width)

	n, err := fsx.Pread(l.file, buf, l.entryOffset(index))
	if err != nil {
		return 0, false, fmt.Errorf("%w: read log entry %d: %w", ErrIO, index, err)
	}

	if int64(n) < width {
		return 0, false, nil
	}

	return decodeLogEntry(logHeader{version: l.version}, buf), true, nil
}

func (l *sectionLog) writeEntry(index uint32, validLen uint32) error {
	buf := encodeLogEntry(logHeader{version: l.version}, validLen)

	if _, err := fsx.Pwrite(l.file, buf, l.entryOffset(index)); err != nil {
		return fmt.Errorf("%w: write log entry %d: %w", ErrIO, index, err)
	}

	return nil
}

// appendEntry appends a new, zero-valued log entry and returns the
// section index it corresponds to. The log file is opened O_APPEND, so
// the kernel picks the write's offset atomically even when multiple
// processes append concurrently; the actual index is derived from the
// file's size after the write completes, not from a locally cached
// count, so it is correct even if another process grew the log between
// this process's last read of it and now.
func (l *sectionLog) appendEntry() (uint32, error) {
	width := l.entryWidth()
	buf := encodeLogEntry(logHeader{version: l.version}, 0)

	n, err := l.file.Write(buf)
	if err != nil {
		return 0, fmt.Errorf("%w: append log entry: %w", ErrIO, err)
	}

	if int64(n) != width {
		return 0, fmt.Errorf("%w: short append of log entry", ErrIO)
	}

	info, err := l.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat log file after append: %w", ErrIO, err)
	}

	offset := info.Size() - width
	index := l.indexFromOffset(offset)

	l.numEntries.AdvanceAtLeast(index + 1)

	return index, nil
}

// lockSection takes both the in-process lock and the kernel fcntl
// byte-range lock for a section's log entry, in that order. It never
// blocks; on any unavailability (in-process or kernel) it returns
// [ErrBusy] so the caller can retry at a higher level.
func (l *sectionLog) lockSection(index uint32, exclusive bool) error {
	if !l.table.tryAcquire(index, exclusive) {
		return ErrBusy
	}

	mode := fsx.RangeLockShared
	if exclusive {
		mode = fsx.RangeLockExclusive
	}

	width := l.entryWidth()
	if err := fsx.TryRangeLock(l.file, mode, l.entryOffset(index), width); err != nil {
		l.table.release(index, exclusive)

		if errors.Is(err, fsx.ErrWouldBlock) {
			return ErrBusy
		}

		return fmt.Errorf("%w: lock section %d: %w", ErrIO, index, err)
	}

	return nil
}

// unlockSection reverses a prior successful lockSection, releasing the
// kernel range lock before the in-process slot.
func (l *sectionLog) unlockSection(index uint32, exclusive bool) {
	width := l.entryWidth()
	_ = fsx.UnlockRange(l.file, l.entryOffset(index), width)
	l.table.release(index, exclusive)
}

func (l *sectionLog) close() error {
	return l.file.Close()
}

// truncater lets closeFold and recreateDataHeader shrink the data file
// without widening the [fsx.File] interface, by type-asserting to reach
// *os.File.Truncate.
type truncater interface {
	Truncate(size int64) error
}

// closeFold performs the fold-on-close protocol: it takes an exclusive
// whole-file lock on the log (blocking, since this only happens once per
// close and contends with nothing but another closer), trims trailing
// wholly-empty sections from the data file, appends the folded log image
// plus a trailer to the data file's new end, and unlinks the sidecar log.
func (l *sectionLog) closeFold(dataFile fsx.File, sectionSize uint32) error {
	if err := fsx.Flock(l.file, fsx.RangeLockExclusive); err != nil {
		return fmt.Errorf("%w: lock log for fold: %w", ErrIO, err)
	}
	defer func() { _ = fsx.Funlock(l.file) }()

	n := l.numEntries.Load()
	width := l.entryWidth()

	entries := make([]byte, int64(n)*width)
	if n > 0 {
		if _, err := fsx.Pread(l.file, entries, logHeaderLen); err != nil {
			return fmt.Errorf("%w: read log entries for fold: %w", ErrIO, err)
		}
	}

	trimmed := n
	for trimmed > 0 {
		last := int64(trimmed - 1)
		validLen := decodeLogEntry(logHeader{version: l.version}, entries[last*width:last*width+width])

		if validLen != 0 {
			break
		}

		trimmed--
	}

	dataEnd := int64(dataHeaderLen) + int64(trimmed)*int64(sectionSize)

	t, ok := dataFile.(truncater)
	if !ok {
		return fmt.Errorf("%w: data file does not support truncate", ErrIO)
	}

	if err := t.Truncate(dataEnd); err != nil {
		return fmt.Errorf("%w: truncate data file: %w", ErrIO, err)
	}

	folded := encodeLogHeader(logHeader{version: l.version, numEntries: trimmed})
	folded = append(folded, entries[:int64(trimmed)*width]...)

	tr := encodeTrailer(trailer{logOffset: uint64(len(folded) + trailerLen)})
	folded = append(folded, tr...)

	if _, err := fsx.Pwrite(dataFile, folded, dataEnd); err != nil {
		return fmt.Errorf("%w: write folded log image: %w", ErrIO, err)
	}

	if err := dataFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync data file after fold: %w", ErrIO, err)
	}

	// It doesn't matter much if this fails; the next Open will find the
	// trailer we just wrote and reconstruct the log from it anyway.
	_ = l.fsys.Remove(l.path)

	return l.close()
}
