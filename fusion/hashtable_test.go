package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, poolCap, hashCap int) (*BlockPool, *BlockHashTable) {
	t.Helper()
	pool := NewBlockPool(poolCap)
	return pool, NewBlockHashTable(pool, hashCap)
}

// collidingKeys brute-forces n distinct keys whose probe sequences start at
// the same slot of the table.
func collidingKeys(t *testing.T, table *BlockHashTable, n int) []BlockIndex {
	t.Helper()
	capacity := table.Capacity()
	target := -1
	var keys []BlockIndex
	for i := int32(0); len(keys) < n && i < 1_000_000; i++ {
		k := BlockIndex{X: i, Y: 7, Z: -3}
		slot := k.hashSlot(capacity)
		if target == -1 {
			target = slot
			keys = append(keys, k)
			continue
		}
		if slot == target {
			keys = append(keys, k)
		}
	}
	require.Len(t, keys, n, "could not find %d colliding keys", n)
	return keys
}

func TestHashTable_InsertOrGet_RoundTrip(t *testing.T) {
	// GIVEN an empty table
	_, table := newTestTable(t, 64, 16)

	// WHEN a key is inserted
	key := BlockIndex{X: 1, Y: -2, Z: 3}
	poolIndex, allocated, err := table.InsertOrGet(key, VoxelSizeMid)
	require.NoError(t, err)
	require.True(t, allocated)

	// THEN lookup returns the insertion's pool index (P1) and a repeated
	// insert is a get
	got, ok := table.Lookup(key)
	assert.True(t, ok)
	assert.Equal(t, poolIndex, got)

	again, allocatedAgain, err := table.InsertOrGet(key, VoxelSizeMid)
	require.NoError(t, err)
	assert.False(t, allocatedAgain)
	assert.Equal(t, poolIndex, again)
	assert.Equal(t, 1, table.Count())
}

func TestHashTable_Lookup_Miss(t *testing.T) {
	_, table := newTestTable(t, 64, 16)
	_, ok := table.Lookup(BlockIndex{X: 9, Y: 9, Z: 9})
	assert.False(t, ok)
}

func TestHashTable_Remove_BackwardShift_S1(t *testing.T) {
	// GIVEN keys A, B, C whose hashes collide on the same slot
	_, table := newTestTable(t, 64, 16)
	keys := collidingKeys(t, table, 3)
	a, b, c := keys[0], keys[1], keys[2]

	idxA, _, err := table.InsertOrGet(a, VoxelSizeMid)
	require.NoError(t, err)
	_, _, err = table.InsertOrGet(b, VoxelSizeMid)
	require.NoError(t, err)
	idxC, _, err := table.InsertOrGet(c, VoxelSizeMid)
	require.NoError(t, err)

	// WHEN the middle of the probe chain is removed
	table.Remove(b)

	// THEN the chain survivors still resolve to their pool indices (P2)
	gotA, ok := table.Lookup(a)
	require.True(t, ok)
	assert.Equal(t, idxA, gotA)
	gotC, ok := table.Lookup(c)
	require.True(t, ok, "backward shift must keep C reachable")
	assert.Equal(t, idxC, gotC)

	_, ok = table.Lookup(b)
	assert.False(t, ok)
	assert.Equal(t, 2, table.Count())
}

func TestHashTable_Remove_Absent_IsNoOp(t *testing.T) {
	pool, table := newTestTable(t, 64, 16)
	_, _, err := table.InsertOrGet(BlockIndex{X: 1}, VoxelSizeMid)
	require.NoError(t, err)

	table.Remove(BlockIndex{X: 2})

	assert.Equal(t, 1, table.Count())
	assert.Equal(t, 1, pool.AllocatedCount())
}

func TestHashTable_Remove_FreesPoolSlot(t *testing.T) {
	pool, table := newTestTable(t, 64, 16)
	key := BlockIndex{X: 5, Y: 5, Z: 5}
	_, _, err := table.InsertOrGet(key, VoxelSizeMid)
	require.NoError(t, err)
	require.Equal(t, 1, pool.AllocatedCount())

	table.Remove(key)

	assert.Equal(t, 0, pool.AllocatedCount())
	assert.Equal(t, 0, table.Count())
}

func TestHashTable_Rehash_PreservesPairs_P3(t *testing.T) {
	// GIVEN a table loaded past the rehash threshold
	_, table := newTestTable(t, 256, 64)
	before := make(map[BlockIndex]int32)
	for i := int32(0); i < 50; i++ {
		key := BlockIndex{X: i, Y: -i, Z: i * 3}
		poolIndex, _, err := table.InsertOrGet(key, VoxelSizeMid)
		require.NoError(t, err)
		before[key] = poolIndex
	}
	require.GreaterOrEqual(t, table.LoadFactor(), HashLoadFactorMax)
	keysBefore := table.StableKeys()

	// WHEN it rehashes
	table.RehashIfNeeded()

	// THEN capacity doubled and every live (key, poolIndex) pair is
	// unchanged, as is the stable key order (I2)
	assert.Equal(t, 128, table.Capacity())
	assert.Equal(t, len(before), table.Count())
	for key, want := range before {
		got, ok := table.Lookup(key)
		require.True(t, ok, "key %+v lost in rehash", key)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, keysBefore, table.StableKeys())
}

func TestHashTable_RehashIfNeeded_BelowThreshold_NoChange(t *testing.T) {
	_, table := newTestTable(t, 64, 64)
	_, _, err := table.InsertOrGet(BlockIndex{X: 1}, VoxelSizeMid)
	require.NoError(t, err)

	table.RehashIfNeeded()

	assert.Equal(t, 64, table.Capacity())
}

func TestHashTable_ForEachBlock_InsertionOrder(t *testing.T) {
	_, table := newTestTable(t, 64, 64)
	want := []BlockIndex{{X: 3}, {X: 1}, {X: 2}}
	for _, k := range want {
		_, _, err := table.InsertOrGet(k, VoxelSizeMid)
		require.NoError(t, err)
	}

	var got []BlockIndex
	table.ForEachBlock(func(key BlockIndex, poolIndex int32) {
		got = append(got, key)
	})
	assert.Equal(t, want, got)

	// Removal keeps the relative order of the survivors.
	table.Remove(want[1])
	got = got[:0]
	table.ForEachBlock(func(key BlockIndex, poolIndex int32) {
		got = append(got, key)
	})
	assert.Equal(t, []BlockIndex{{X: 3}, {X: 2}}, got)
}

func TestHashTable_PoolExhaustion_Surfaces(t *testing.T) {
	_, table := newTestTable(t, 2, 16)
	_, _, err := table.InsertOrGet(BlockIndex{X: 1}, VoxelSizeMid)
	require.NoError(t, err)
	_, _, err = table.InsertOrGet(BlockIndex{X: 2}, VoxelSizeMid)
	require.NoError(t, err)

	_, _, err = table.InsertOrGet(BlockIndex{X: 3}, VoxelSizeMid)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}
