package logdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Iterator_Detects_Truncated_Record(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Put(context.Background(), []byte("k"), []byte("v")))

	// Claim more bytes are valid than were actually written, so the
	// iterator reads past the real record into bytes that were never written.
	idx := conn.log.count() - 1
	require.NoError(t, conn.log.writeEntry(idx, conn.sectionSize))

	it := conn.Iterate()

	for it.Next() { //nolint:revive // draining intentionally to surface the error
	}

	assert.ErrorIs(t, it.Err(), ErrCorrupt)
}

func Test_Iterator_Close_Releases_Its_Lease(t *testing.T) {
	t.Parallel()

	path := dbPath(t)

	conn, err := Open(path, Options{Flags: Create, SectionSize: minSectionSize})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Put(context.Background(), []byte("k1"), []byte("v1")))
	require.NoError(t, conn.Put(context.Background(), []byte("k2"), []byte("v2")))

	it := conn.Iterate()
	require.True(t, it.Next())
	it.Close()

	// A write to the same section must succeed immediately: Close must
	// have released the read lease rather than leaking it.
	require.NoError(t, conn.Put(context.Background(), []byte("k3"), []byte("v3")))
}
