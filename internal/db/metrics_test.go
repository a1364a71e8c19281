package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRowsDeletedSinceVacuum(t *testing.T) {
	ResetRowsDeletedSinceVacuum()

	RowsDeletedInc("destroy_one", 3)
	RowsDeletedInc("destroy_all", 7)
	require.Equal(t, uint64(10), RowsDeletedSinceVacuum())

	// Ignored: zero and negative counts don't move the churn counter.
	RowsDeletedInc("destroy_one", 0)
	RowsDeletedInc("destroy_one", -5)
	require.Equal(t, uint64(10), RowsDeletedSinceVacuum())

	ResetRowsDeletedSinceVacuum()
	require.Equal(t, uint64(0), RowsDeletedSinceVacuum())
}

func TestBufferReplayedRowsInc_DoesNotPanicOnNonPositive(t *testing.T) {
	BufferReplayedRowsInc(0)
	BufferReplayedRowsInc(-1)
	BufferReplayedRowsInc(2)
}
