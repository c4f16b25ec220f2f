package logdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dbPath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "events.ldb")
}

func Test_Open_Requires_Create_Flag_For_A_New_Database(t *testing.T) {
	t.Parallel()

	_, err := Open(dbPath(t), Options{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func Test_Open_Creates_And_Reopens_An_Empty_Database(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	conn2, err := Open(path, Options{})
	require.NoError(t, err)
	defer conn2.Close()

	it := conn2.Iterate()
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func Test_Put_Commit_Iterate_Round_Trip(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	ctx := conn.Begin(context.Background())
	require.NoError(t, conn.Put(ctx, []byte("user:1"), []byte("alice")))
	require.NoError(t, conn.Put(ctx, []byte("user:2"), []byte("bob")))
	require.NoError(t, conn.Commit(ctx))

	var got [][2]string

	it := conn.Iterate()
	for it.Next() {
		got = append(got, [2]string{string(it.Key()), string(it.Value())})
	}

	require.NoError(t, it.Err())
	assert.Equal(t, [][2]string{{"user:1", "alice"}, {"user:2", "bob"}}, got)
}

func Test_Put_Without_Explicit_Transaction_Commits_Immediately(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Put(context.Background(), []byte("k"), []byte("v")))

	it := conn.Iterate()
	require.True(t, it.Next())
	assert.Equal(t, "k", string(it.Key()))
	assert.Equal(t, "v", string(it.Value()))
	assert.False(t, it.Next())
}

func Test_Rollback_Discards_Buffered_Writes(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	ctx := conn.Begin(context.Background())
	require.NoError(t, conn.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, conn.Rollback(ctx))

	it := conn.Iterate()
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
}

func Test_Nested_Transaction_Is_Invisible_Until_Outer_Commit(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	outer := conn.Begin(context.Background())
	require.NoError(t, conn.Put(outer, []byte("outer"), []byte("1")))

	inner := conn.Begin(outer)
	require.NoError(t, conn.Put(inner, []byte("inner"), []byte("2")))
	require.NoError(t, conn.Commit(inner))

	// Nothing is durable yet: both records live only in the outer
	// transaction's buffered rope until it commits.
	it := conn.Iterate()
	assert.False(t, it.Next())

	require.NoError(t, conn.Commit(outer))

	var keys []string

	it = conn.Iterate()
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}

	require.NoError(t, it.Err())
	assert.Equal(t, []string{"outer", "inner"}, keys)
}

func Test_Commit_Without_Begin_Returns_ErrTxn(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	assert.ErrorIs(t, conn.Commit(context.Background()), ErrTxn)
	assert.ErrorIs(t, conn.Rollback(context.Background()), ErrTxn)
}

func Test_Put_Rejects_Empty_Key(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Put(context.Background(), nil, []byte("v"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func Test_Data_Survives_Close_And_Fold_And_Reopen(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	require.NoError(t, conn.Put(context.Background(), []byte("k1"), []byte("v1")))
	require.NoError(t, conn.Put(context.Background(), []byte("k2"), []byte("v2")))
	require.NoError(t, conn.Close())

	conn2, err := Open(path, Options{})
	require.NoError(t, err)
	defer conn2.Close()

	var keys []string

	it := conn2.Iterate()
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}

	require.NoError(t, it.Err())
	assert.Equal(t, []string{"k1", "k2"}, keys)
}

func Test_Put_Spanning_Multiple_Sections(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	// Each record (8-byte header + 2-byte key + value) is big enough
	// relative to minSectionSize that only one fits per section, forcing
	// every Put to land in a fresh section.
	value := make([]byte, 30)

	for i := range 5 {
		key := []byte{'k', byte('0' + i)}
		require.NoError(t, conn.Put(context.Background(), key, value))
	}

	assert.Equal(t, uint32(5), conn.log.count())

	var got int

	it := conn.Iterate()
	for it.Next() {
		got++
	}

	require.NoError(t, it.Err())
	assert.Equal(t, 5, got)
}

func Test_Open_Existing_Invalid_File_Without_Truncate_Fails(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// Corrupt the header in place.
	require.NoError(t, corruptFileByte(path, 0))

	_, err = Open(path, Options{Flags: Create})
	assert.ErrorIs(t, err, ErrCorrupt)

	conn2, err := Open(path, Options{Flags: Create | Truncate, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn2.Close()
}
