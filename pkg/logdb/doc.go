// Package logdb implements an embedded, append-oriented key/value store.
//
// A database is a single data file divided into fixed-size sections. Each
// section holds an append-only run of variable-length records
// (key, value). A sidecar file next to the data file ("<path>-log") records
// how many bytes of each section currently hold valid data. There is no
// secondary index: the only way to read records back out is to scan them
// with an [Iterator].
//
// Example usage:
//
//	conn, err := logdb.Open("events.ldb", logdb.Options{Flags: logdb.Create})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	ctx := conn.Begin(context.Background())
//	if err := conn.Put(ctx, []byte("user:42"), []byte("login")); err != nil {
//	    conn.Rollback(ctx)
//	    return err
//	}
//	if err := conn.Commit(ctx); err != nil {
//	    return err
//	}
//
//	it := conn.Iterate()
//	for it.Next() {
//	    fmt.Printf("%s = %s\n", it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil {
//	    return err
//	}
//
// # Concurrency
//
//   - Many goroutines may share a single [Conn] without external locking.
//     Opening more than one [Conn] on the same file from within a single
//     process is not supported — use one [Conn] and share it.
//   - Many OS processes may open the same data file concurrently. Kernel
//     advisory locks ([golang.org/x/sys/unix] flock and fcntl byte-range
//     locks) coordinate across processes; an in-process lock table makes
//     those kernel locks safe to share across goroutines within one
//     process. See the "Locking architecture" note on [lockTable].
//   - The data and log files are only ever accessed through positional
//     reads and writes (pread/pwrite) — never through a shared file
//     offset — so concurrent goroutines never race on the kernel file
//     position.
//
// # Transactions
//
// Transactions nest per logical call chain, carried through
// [context.Context] rather than OS thread-local storage (Go has no
// portable per-goroutine storage with a destructor hook). See [Conn.Begin].
// No data becomes visible to other readers until the outermost transaction
// commits, and only once its log entry write has landed on disk.
//
// # Error handling
//
// Errors fall into the same categories the format itself distinguishes:
// argument errors ([ErrInvalidArgument]), I/O errors ([ErrIO]), format
// errors ([ErrCorrupt], [ErrIncompatible]), transient contention
// ([ErrBusy] — this is always retried internally and only escapes an API
// call that has exhausted its own retry budget), resource exhaustion
// ([ErrFull], [ErrOverflow]), and invalid transaction state ([ErrTxn],
// [ErrClosed]). Corruption is never silently repaired; [Open] fails hard
// instead.
package logdb
