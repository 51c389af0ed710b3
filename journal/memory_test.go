package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-lending-go/journal"
)

func Test_Memory_AppendAndRead(t *testing.T) {
	// arrange
	ctx := context.Background()
	mem := journal.NewMemory()
	lent := givenEntry(t, "BookCopyLent", "b-1", "m-1")
	returned := givenEntry(t, "BookCopyReturned", "b-1", "m-1")
	other := givenEntry(t, "BookCopyLent", "b-2", "m-2")

	// act
	require.NoError(t, mem.Append(ctx, lent, returned))
	require.NoError(t, mem.Append(ctx, other))
	all, allErr := mem.Read(ctx, journal.Filter{})
	forBook, bookErr := mem.Read(ctx, journal.BuildFilter().ForBook("b-1").Finalize())
	limited, limitErr := mem.Read(ctx, journal.BuildFilter().OfTypes("BookCopyLent").Limit(1).Finalize())

	// assert
	require.NoError(t, allErr)
	require.NoError(t, bookErr)
	require.NoError(t, limitErr)
	require.Len(t, all, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].Sequence, all[1].Sequence, all[2].Sequence})
	assert.Len(t, forBook, 2)
	require.Len(t, limited, 1)
	assert.Equal(t, "b-1", limited[0].BookID)
	assert.Equal(t, 3, mem.Len())
}

func Test_Memory_Append_RejectsUntypedEntry(t *testing.T) {
	mem := journal.NewMemory()

	err := mem.Append(context.Background(), givenEntry(t, "X", "", ""), journal.Entry{})

	assert.ErrorIs(t, err, journal.ErrAppendFailed)
	assert.Equal(t, 0, mem.Len())
}

func Test_Memory_Snapshots(t *testing.T) {
	ctx := context.Background()
	mem := journal.NewMemory()

	_, missing := mem.LoadSnapshot(ctx, "state")
	first, _ := journal.BuildSnapshot("state", []byte(`{"v":1}`), 1, time.Now())
	second, _ := journal.BuildSnapshot("state", []byte(`{"v":2}`), 2, time.Now())
	require.NoError(t, mem.SaveSnapshot(ctx, first))
	require.NoError(t, mem.SaveSnapshot(ctx, second))
	loaded, err := mem.LoadSnapshot(ctx, "state")

	assert.ErrorIs(t, missing, journal.ErrSnapshotNotFound)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(loaded.Data))
	assert.ErrorIs(t, mem.SaveSnapshot(ctx, journal.Snapshot{}), journal.ErrSavingSnapshotFailed)
}

func givenEntry(t *testing.T, entryType, bookID, memberID string) journal.Entry {
	t.Helper()

	entry, err := journal.BuildEntry(entryType, time.Now(), bookID, memberID, []byte(`{}`), nil)
	require.NoError(t, err)

	return entry
}
