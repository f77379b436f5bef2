package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fortistash/types"
)

func testIdentity(n int) types.FileIdentity {
	return types.FileIdentity{
		Path:  fmt.Sprintf("/data/fortigate/fortigate.log-20240105-%06d", n),
		Inode: uint64(1000 + n),
		Size:  int64(n * 100),
		Mtime: int64(1700000000 + n),
	}
}

func TestLoadDefaultWhenMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	state, err := store.Load("/data/fortigate/fortigate.log")
	require.NoError(t, err)

	assert.Equal(t, 1, state.SchemaVersion)
	assert.Equal(t, "/data/fortigate/fortigate.log", state.Active.Path)
	assert.Nil(t, state.Active.Inode)
	assert.Zero(t, state.Active.Offset)
	assert.Empty(t, state.Completed)
	assert.Zero(t, state.Counters.LinesIn)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	state := Default("/data/fortigate/fortigate.log")
	inode := uint64(42)
	ts := "2024-01-05T03:04:05"
	state.Active.Inode = &inode
	state.Active.Offset = 12345
	state.Active.LastEventTsSeen = &ts
	state.Counters.LinesIn = 7
	state.Counters.EventsOut = 5
	state.Counters.DlqOut = 2
	MarkCompleted(state, testIdentity(1))

	require.NoError(t, store.Save(state))

	loaded, err := store.Load("/data/fortigate/fortigate.log")
	require.NoError(t, err)

	// Save stamps updated_at; everything else must round-trip exactly.
	loaded.UpdatedAt = state.UpdatedAt
	assert.Equal(t, state, loaded)
}

func TestSaveIsAtomicOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewStore(path)

	state := Default("/data/fortigate/fortigate.log")
	require.NoError(t, store.Save(state))

	state.Counters.LinesIn = 99
	require.NoError(t, store.Save(state))

	loaded, err := store.Load("/data/fortigate/fortigate.log")
	require.NoError(t, err)
	assert.Equal(t, uint64(99), loaded.Counters.LinesIn)

	// No temp sibling left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint.json", entries[0].Name())
}

func TestLoadCorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0644))

	_, err := NewStore(path).Load("/data/fortigate/fortigate.log")
	assert.Error(t, err)
}

func TestMarkCompletedIdempotent(t *testing.T) {
	state := Default("/data/fortigate/fortigate.log")
	id := testIdentity(1)

	assert.False(t, IsCompleted(state, id))

	MarkCompleted(state, id)
	MarkCompleted(state, id)
	assert.True(t, IsCompleted(state, id))
}

func TestIdentityNotJustInode(t *testing.T) {
	state := Default("/data/fortigate/fortigate.log")
	id := testIdentity(1)
	MarkCompleted(state, id)

	// Same inode, different size/mtime: a recreated file, not a duplicate.
	reused := id
	reused.Size += 10
	assert.False(t, IsCompleted(state, reused))

	reused = id
	reused.Mtime++
	assert.False(t, IsCompleted(state, reused))
}

func TestLedgerCapEvictsOldestFirst(t *testing.T) {
	state := Default("/data/fortigate/fortigate.log")

	for n := 0; n < LedgerCap+1; n++ {
		MarkCompleted(state, testIdentity(n))
	}

	require.Len(t, state.Completed, LedgerCap)
	assert.False(t, IsCompleted(state, testIdentity(0)), "oldest entry evicted")
	assert.True(t, IsCompleted(state, testIdentity(1)))
	assert.True(t, IsCompleted(state, testIdentity(LedgerCap)))
}
