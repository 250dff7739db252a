package fusion

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillPlane writes the SDF of the horizontal-normal plane z = planeZ into
// the block, normalized by its truncation distance, with converged weights.
func fillPlane(block *VoxelBlock, origin mgl32.Vec3, planeZ float32) {
	tau := block.Truncation()
	for x := 0; x < BlockEdge; x++ {
		for y := 0; y < BlockEdge; y++ {
			for z := 0; z < BlockEdge; z++ {
				zc := origin.Z() + (float32(z)+0.5)*block.VoxelSize
				v := &block.Voxels[voxelOffset(x, y, z)]
				v.setSDF(clamp32((planeZ-zc)/tau, -1, 1))
				v.Weight = MaxVoxelWeight
				v.Confidence = 2
			}
		}
	}
}

func planeFixture(t *testing.T, generation uint32) (*BlockPool, *BlockHashTable, *MarchingCubes, BlockIndex) {
	t.Helper()
	pool := NewBlockPool(64)
	table := NewBlockHashTable(pool, 64)
	key := BlockIndex{X: 0, Y: 0, Z: 0}
	poolIndex, _, err := table.InsertOrGet(key, VoxelSizeMid)
	require.NoError(t, err)
	block := pool.Block(poolIndex)
	fillPlane(block, key.origin(VoxelSizeMid), 0.04)
	block.IntegrationGeneration = generation
	return pool, table, NewMarchingCubes(table, pool), key
}

func TestMarchingCubes_ExtractsPlane(t *testing.T) {
	// GIVEN a converged block holding the plane z = 0.04
	pool, table, mc, key := planeFixture(t, 10)

	// WHEN the dirty block is extracted
	out := mc.ExtractIncremental(1.0)

	// THEN the zero crossing is meshed
	require.Greater(t, out.TriangleCount(), 0)
	assert.Equal(t, 0, out.DirtyBlocksRemaining)
	assert.Equal(t, 1.0, out.ExtractionTimestamp)
	assert.Equal(t, len(out.Triangles), 3*out.TriangleCount())

	// Fully converged and past the fade-in window.
	for _, v := range out.Vertices {
		assert.InDelta(t, 1.0, v.Alpha, 1e-5)
		assert.InDelta(t, 1.0, v.Quality, 1e-5)
	}

	// P5: the processed block's mesh generation catches up.
	poolIndex, ok := table.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, uint32(10), pool.Block(poolIndex).MeshGeneration)

	// A second cycle has nothing to do.
	again := mc.ExtractIncremental(2.0)
	assert.Equal(t, 0, again.TriangleCount())
	assert.Equal(t, 0, again.DirtyBlocksRemaining)
}

func TestMarchingCubes_NoDegenerateTriangles_P6(t *testing.T) {
	_, _, mc, _ := planeFixture(t, 10)
	out := mc.ExtractIncremental(0)
	require.Greater(t, out.TriangleCount(), 0)

	for i := 0; i+2 < len(out.Triangles); i += 3 {
		v0 := out.Vertices[out.Triangles[i]].Position
		v1 := out.Vertices[out.Triangles[i+1]].Position
		v2 := out.Vertices[out.Triangles[i+2]].Position
		assert.False(t, triangleDegenerate(v0, v1, v2))
	}
}

func TestMarchingCubes_InteriorNormalsFollowGradient(t *testing.T) {
	_, _, mc, _ := planeFixture(t, 10)
	out := mc.ExtractIncremental(0)
	require.Greater(t, out.TriangleCount(), 0)

	// Interior plane vertices: the SDF decreases with z, so the gradient
	// points toward -z. Boundary vertices are bent by the empty-sentinel
	// neighbors, so only check well inside the block.
	checked := 0
	for _, v := range out.Vertices {
		p := v.Position
		if p.X() < 0.02 || p.X() > 0.06 || p.Y() < 0.02 || p.Y() > 0.06 {
			continue
		}
		if p.Z() < 0.02 || p.Z() > 0.06 {
			continue
		}
		assert.Less(t, v.Normal.Z(), float32(0))
		assert.InDelta(t, 1.0, v.Normal.Len(), 1e-4)
		checked++
	}
	assert.Greater(t, checked, 0)
}

func TestMarchingCubes_ProgressiveReveal_GatesYoungBlocks(t *testing.T) {
	// GIVEN a block observed fewer than MinObservationsBeforeMesh times
	_, _, mc, _ := planeFixture(t, MinObservationsBeforeMesh-1)

	out := mc.ExtractIncremental(0)

	// THEN it is not meshed and not counted as pending either
	assert.Equal(t, 0, out.TriangleCount())
	assert.Equal(t, 0, out.DirtyBlocksRemaining)
}

func TestMarchingCubes_AlphaFadesIn(t *testing.T) {
	// At the observation gate the surface is invisible.
	assert.InDelta(t, 0.0, blockAlpha(MinObservationsBeforeMesh), 1e-6)
	// Midway it is partially revealed, fully visible past the window.
	mid := blockAlpha(MinObservationsBeforeMesh + MeshFadeInFrames/2)
	assert.Greater(t, mid, float32(0))
	assert.Less(t, mid, float32(1))
	assert.InDelta(t, 1.0, blockAlpha(MinObservationsBeforeMesh+MeshFadeInFrames), 1e-6)
}

func TestMarchingCubes_TriangleBudgetHalts(t *testing.T) {
	// GIVEN a cap far below the plane's triangle count
	pool, table, mc, key := planeFixture(t, 10)
	mc.SetMaxTriangles(4)

	out := mc.ExtractIncremental(0)

	// THEN extraction halts at the cap and the block stays dirty
	assert.LessOrEqual(t, out.TriangleCount(), 4)
	assert.Equal(t, 1, out.DirtyBlocksRemaining)
	poolIndex, _ := table.Lookup(key)
	assert.Equal(t, uint32(0), pool.Block(poolIndex).MeshGeneration)
}

func TestMarchingCubes_StalenessOrdersExtraction(t *testing.T) {
	pool := NewBlockPool(64)
	table := NewBlockHashTable(pool, 64)
	mc := NewMarchingCubes(table, pool)

	// Two dirty blocks; the second is staler.
	fresh := BlockIndex{X: 0, Y: 0, Z: 0}
	stale := BlockIndex{X: 1, Y: 0, Z: 0}
	for _, key := range []BlockIndex{fresh, stale} {
		poolIndex, _, err := table.InsertOrGet(key, VoxelSizeMid)
		require.NoError(t, err)
		block := pool.Block(poolIndex)
		fillPlane(block, key.origin(VoxelSizeMid), 0.04)
	}
	freshIdx, _ := table.Lookup(fresh)
	staleIdx, _ := table.Lookup(stale)
	pool.Block(freshIdx).IntegrationGeneration = 4
	pool.Block(staleIdx).IntegrationGeneration = 9

	dirty := mc.collectDirty()
	require.Len(t, dirty, 2)
	assert.Equal(t, stale, dirty[0].key)
	assert.Equal(t, fresh, dirty[1].key)
}

func TestMarchingCubes_Deterministic_P7(t *testing.T) {
	// Identical voxel state extracts byte-identical meshes.
	_, _, mcA, _ := planeFixture(t, 10)
	_, _, mcB, _ := planeFixture(t, 10)

	outA := mcA.ExtractIncremental(0)
	outB := mcB.ExtractIncremental(0)

	assert.Equal(t, outA.Vertices, outB.Vertices)
	assert.Equal(t, outA.Triangles, outB.Triangles)
}

func TestInterpolateCrossing_ClampAndMidpoint(t *testing.T) {
	p0 := mgl32.Vec3{0, 0, 0}
	p1 := mgl32.Vec3{1, 0, 0}

	// Equal magnitudes cross in the middle.
	mid := interpolateCrossing(p0, p1, 0.5, -0.5)
	assert.InDelta(t, 0.5, mid.X(), 1e-6)

	// A crossing hugging a corner is clamped into [0.1, 0.9].
	near := interpolateCrossing(p0, p1, 0.001, -1.0)
	assert.InDelta(t, MCInterpMin, near.X(), 1e-5)
	far := interpolateCrossing(p0, p1, 1.0, -0.001)
	assert.InDelta(t, MCInterpMax, far.X(), 1e-5)

	// Degenerate span falls back to the midpoint.
	flat := interpolateCrossing(p0, p1, 1e-8, 1e-8)
	assert.InDelta(t, 0.5, flat.X(), 1e-6)
}

func TestTriangleDegenerate(t *testing.T) {
	// Zero-area sliver.
	assert.True(t, triangleDegenerate(
		mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{2, 0, 0}))
	// Healthy triangle.
	assert.False(t, triangleDegenerate(
		mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0.01, 0, 0}, mgl32.Vec3{0, 0.01, 0}))
	// Extreme aspect ratio.
	assert.True(t, triangleDegenerate(
		mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0.001, 0}))
}
