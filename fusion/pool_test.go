package fusion

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockPool_AllocateReset(t *testing.T) {
	pool := NewBlockPool(4)

	idx, err := pool.Allocate(VoxelSizeNear)
	require.NoError(t, err)
	block := pool.Block(idx)

	assert.Equal(t, VoxelSizeNear, block.VoxelSize)
	assert.Equal(t, uint32(0), block.IntegrationGeneration)
	assert.Equal(t, uint32(0), block.MeshGeneration)
	for i := range block.Voxels {
		v := block.Voxels[i]
		assert.Equal(t, EmptyVoxelSDF, v.SDFValue())
		assert.Equal(t, uint8(0), v.Weight)
		assert.Equal(t, uint8(0), v.Confidence)
	}
	assert.Equal(t, 1, pool.AllocatedCount())
}

func TestBlockPool_Exhaustion(t *testing.T) {
	pool := NewBlockPool(2)
	_, err := pool.Allocate(VoxelSizeMid)
	require.NoError(t, err)
	_, err = pool.Allocate(VoxelSizeMid)
	require.NoError(t, err)

	_, err = pool.Allocate(VoxelSizeMid)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	// Deallocating makes the slot reusable again.
	pool.Deallocate(0)
	idx, err := pool.Allocate(VoxelSizeFar)
	require.NoError(t, err)
	assert.Equal(t, int32(0), idx)
}

func TestBlockPool_BaseAddressStable(t *testing.T) {
	// GIVEN a pool whose base address a backend has bound
	pool := NewBlockPool(8)
	base := pool.BaseAddress()

	// WHEN blocks churn through allocate/deallocate
	for i := 0; i < 8; i++ {
		_, err := pool.Allocate(VoxelSizeMid)
		require.NoError(t, err)
	}
	for i := int32(0); i < 8; i++ {
		pool.Deallocate(i)
	}

	// THEN the binding stays valid
	assert.Equal(t, base, pool.BaseAddress())
	assert.Equal(t, 8*int(unsafe.Sizeof(VoxelBlock{})), pool.ByteCount())
}

func TestBlockPool_OutOfRangePanics(t *testing.T) {
	pool := NewBlockPool(2)
	assert.Panics(t, func() { pool.Block(2) })
	assert.Panics(t, func() { pool.Deallocate(-1) })
}
