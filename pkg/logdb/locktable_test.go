package logdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LockTable_Multiple_Readers_Share_A_Slot(t *testing.T) {
	t.Parallel()

	var table lockTable

	require.True(t, table.tryAcquire(5, false))
	require.True(t, table.tryAcquire(5, false))
	require.True(t, table.tryAcquire(5, false))

	table.release(5, false)
	table.release(5, false)
	table.release(5, false)

	// Slot is free again: a writer can now take it.
	assert.True(t, table.tryAcquire(5, true))
}

func Test_LockTable_Writer_Excludes_Readers_And_Other_Writers(t *testing.T) {
	t.Parallel()

	var table lockTable

	require.True(t, table.tryAcquire(1, true))
	assert.False(t, table.tryAcquire(1, true))
	assert.False(t, table.tryAcquire(1, false))

	table.release(1, true)

	assert.True(t, table.tryAcquire(1, false))
}

func Test_LockTable_Reader_Excludes_Writer(t *testing.T) {
	t.Parallel()

	var table lockTable

	require.True(t, table.tryAcquire(2, false))
	assert.False(t, table.tryAcquire(2, true))

	table.release(2, false)

	assert.True(t, table.tryAcquire(2, true))
}

func Test_LockTable_Indices_Spanning_Multiple_Pages_Are_Independent(t *testing.T) {
	t.Parallel()

	var table lockTable

	indices := []uint32{0, lockPageSlots - 1, lockPageSlots, lockPageSlots * 3, lockPageSlots*3 + 50}

	for _, idx := range indices {
		require.True(t, table.tryAcquire(idx, true), "index %d", idx)
	}

	for _, idx := range indices {
		assert.False(t, table.tryAcquire(idx, false), "index %d should still be held", idx)
	}

	for _, idx := range indices {
		table.release(idx, true)
	}

	for _, idx := range indices {
		assert.True(t, table.tryAcquire(idx, false), "index %d should be free", idx)
	}
}

func Test_LockTable_Acquiring_A_Lower_Index_Later_Grows_The_Page_Chain_Backward(t *testing.T) {
	t.Parallel()

	var table lockTable

	// Acquire a high index first so the initial page doesn't start at 0,
	// then acquire something lower than it to exercise the
	// page.startIndex > index branch.
	require.True(t, table.tryAcquire(500, true))
	require.True(t, table.tryAcquire(10, true))

	assert.False(t, table.tryAcquire(500, false))
	assert.False(t, table.tryAcquire(10, false))

	table.release(500, true)
	table.release(10, true)
}
