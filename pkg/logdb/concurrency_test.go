package logdb

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_Concurrent_Put_From_Many_Goroutines_Preserves_Every_Record drives the
// lock table and lease manager under real contention: many goroutines share
// one Conn and race to acquire write leases via acquireWrite, forcing
// repeated walk-then-append contention across a handful of small sections.
func Test_Concurrent_Put_From_Many_Goroutines_Preserves_Every_Record(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	const (
		workers    = 8
		perWorker  = 200
		wantTotal  = workers * perWorker
		valueBytes = "payload"
	)

	var wg sync.WaitGroup

	for w := range workers {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()

			for i := range perWorker {
				key := fmt.Sprintf("w%d-%d", worker, i)
				require.NoError(t, conn.Put(context.Background(), []byte(key), []byte(valueBytes)))
			}
		}(w)
	}

	wg.Wait()

	seen := make(map[string]bool, wantTotal)

	it := conn.Iterate()
	for it.Next() {
		key := string(it.Key())
		assert.False(t, seen[key], "key %q committed more than once", key)
		seen[key] = true
		assert.Equal(t, valueBytes, string(it.Value()))
	}

	require.NoError(t, it.Err())
	assert.Len(t, seen, wantTotal)
}

// Test_Concurrent_Put_Per_Key_Ascending_Order mirrors the literal scenario
// of N threads each writing an ascending sequence under its own key: per-key
// append order must survive concurrent commits from other threads, even
// though the threads share sections and race on the lock table. Scaled down
// from the scenario's literal 10,000 puts per thread to keep the test fast;
// the shape (several threads, strictly ascending per-key sequence) is
// unchanged.
func Test_Concurrent_Put_Per_Key_Ascending_Order(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	const (
		threads = 4
		perKey  = 300
	)

	var wg sync.WaitGroup

	for th := range threads {
		wg.Add(1)

		go func(thread int) {
			defer wg.Done()

			key := []byte(fmt.Sprintf("t%d", thread))

			for seq := range perKey {
				value := []byte(fmt.Sprintf("%d", seq))
				require.NoError(t, conn.Put(context.Background(), key, value))
			}
		}(th)
	}

	wg.Wait()

	lastSeqByKey := make(map[string]int)

	it := conn.Iterate()
	for it.Next() {
		key := string(it.Key())

		var seq int
		_, err := fmt.Sscanf(string(it.Value()), "%d", &seq)
		require.NoError(t, err)

		if prev, ok := lastSeqByKey[key]; ok {
			assert.Greater(t, seq, prev, "key %q: sequence went backward", key)
		} else {
			assert.Equal(t, 0, seq, "key %q: first record was not the first write", key)
		}

		lastSeqByKey[key] = seq
	}

	require.NoError(t, it.Err())
	assert.Len(t, lastSeqByKey, threads)

	for th := range threads {
		key := fmt.Sprintf("t%d", th)
		assert.Equal(t, perKey-1, lastSeqByKey[key])
	}
}

// Test_Two_Connections_Same_Process_Concurrent_Create_And_Put simulates the
// two-process scenario (each opens CREATE on the same path, each puts one
// record, then both close) within a single process: two Conns race to
// create the data file and adopt-or-create the sidecar log, exercising the
// open-time ownership race and the close-time flock-upgrade race in
// conn.go's Open/Close.
//
// Opening two Conns on one path within a single process is otherwise
// unsupported (see the package doc's "Concurrency" section): POSIX record
// locks are keyed by (process, inode), so two Conns in the same process
// taking fcntl locks on the *same* byte range would silently replace each
// other's lock instead of conflicting. This scenario starts from an empty
// log, so both connections' first write lease lands on a fresh section via
// the atomic O_APPEND race in appendEntry, giving each Conn a disjoint
// section index and therefore a disjoint lock range — which is what makes
// this a faithful stand-in for two separate processes rather than a
// same-process misuse of the API.
func Test_Two_Connections_Same_Process_Concurrent_Create_And_Put(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	start := make(chan struct{})

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i := range 2 {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()

			<-start

			conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
			if err != nil {
				errs[slot] = err
				return
			}

			if err := conn.Put(context.Background(), []byte("k"), []byte("v")); err != nil {
				errs[slot] = err
				_ = conn.Close()

				return
			}

			errs[slot] = conn.Close()
		}(i)
	}

	close(start)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	conn, err := Open(path, Options{})
	require.NoError(t, err)
	defer conn.Close()

	var records [][2]string

	it := conn.Iterate()
	for it.Next() {
		records = append(records, [2]string{string(it.Key()), string(it.Value())})
	}

	require.NoError(t, it.Err())
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Equal(t, "k", rec[0])
		assert.Equal(t, "v", rec[1])
	}
}
