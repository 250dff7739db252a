package fusion

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/sirupsen/logrus"
)

// MarchingCubes extracts the triangle mesh at the zero crossing of the
// voxel field, incrementally: only blocks whose integration generation has
// advanced past their mesh generation are re-marched, and only once they
// have been observed MinObservationsBeforeMesh times (progressive reveal).
//
// Cube cells span block boundaries: the cell lattice covers every cell
// whose minimum corner voxel lies in the block, and corners past the block
// edge sample the face-, edge-, or corner-adjacent neighbor. A missing
// neighbor samples the +1.0 empty sentinel, so open space never intersects
// the surface spuriously.
type MarchingCubes struct {
	table  *BlockHashTable
	pool   *BlockPool
	budget *MeshBudgetController

	// maxTriangles caps one extraction cycle; MaxTrianglesPerCycle unless
	// overridden.
	maxTriangles int
}

// NewMarchingCubes creates an extractor over the given storage.
func NewMarchingCubes(table *BlockHashTable, pool *BlockPool) *MarchingCubes {
	return &MarchingCubes{
		table:        table,
		pool:         pool,
		budget:       NewMeshBudgetController(),
		maxTriangles: MaxTrianglesPerCycle,
	}
}

// Budget exposes the congestion controller for timing feedback.
func (mc *MarchingCubes) Budget() *MeshBudgetController { return mc.budget }

// SetMaxTriangles overrides the per-cycle triangle cap.
func (mc *MarchingCubes) SetMaxTriangles(n int) { mc.maxTriangles = n }

// dirtyBlock is one extraction candidate captured at scan time.
type dirtyBlock struct {
	key       BlockIndex
	poolIndex int32
	staleness uint32
	scanGen   uint32
	order     int
}

// ExtractIncremental re-meshes dirty blocks in staleness order, within the
// congestion controller's block budget and the triangle cap. Fully
// processed blocks have their mesh generation advanced to the integration
// generation observed at scan time; a block cut short by the triangle cap
// stays dirty.
func (mc *MarchingCubes) ExtractIncremental(now float64) MeshOutput {
	dirty := mc.collectDirty()

	maxBlocks := mc.budget.MaxBlocks()
	out := MeshOutput{ExtractionTimestamp: now}
	processed := 0

	for _, db := range dirty {
		if processed >= maxBlocks || out.TriangleCount() >= mc.maxTriangles {
			break
		}
		if !mc.meshBlock(db, &out) {
			break
		}
		block := mc.pool.Block(db.poolIndex)
		block.MeshGeneration = db.scanGen
		processed++
	}

	out.DirtyBlocksRemaining = len(dirty) - processed
	if out.DirtyBlocksRemaining > 0 {
		logrus.Debugf("mesh: %d dirty blocks deferred past budget", out.DirtyBlocksRemaining)
	}
	return out
}

// collectDirty scans the stable key list and orders candidates by
// staleness descending, list position ascending.
func (mc *MarchingCubes) collectDirty() []dirtyBlock {
	var dirty []dirtyBlock
	order := 0
	mc.table.ForEachBlock(func(key BlockIndex, poolIndex int32) {
		block := mc.pool.Block(poolIndex)
		ig, mg := block.IntegrationGeneration, block.MeshGeneration
		if ig > mg && ig >= MinObservationsBeforeMesh {
			dirty = append(dirty, dirtyBlock{
				key:       key,
				poolIndex: poolIndex,
				staleness: ig - mg,
				scanGen:   ig,
				order:     order,
			})
		}
		order++
	})
	sort.Slice(dirty, func(i, j int) bool {
		if dirty[i].staleness != dirty[j].staleness {
			return dirty[i].staleness > dirty[j].staleness
		}
		return dirty[i].order < dirty[j].order
	})
	return dirty
}

// meshBlock marches every cell of one block. Returns false when the
// triangle cap was hit mid-block, in which case the block's generations
// are left untouched so it is re-visited next cycle.
func (mc *MarchingCubes) meshBlock(db dirtyBlock, out *MeshOutput) bool {
	block := mc.pool.Block(db.poolIndex)
	voxelSize := block.VoxelSize
	origin := db.key.origin(voxelSize)

	alpha := blockAlpha(db.scanGen)
	quality := clamp32(float32(block.weightSum())/float32(VoxelsPerBlock*MaxVoxelWeight), 0, 1)

	var corners [8]float32
	var edgeVerts [12]mgl32.Vec3

	for x := 0; x < BlockEdge; x++ {
		for y := 0; y < BlockEdge; y++ {
			for z := 0; z < BlockEdge; z++ {
				cubeIndex := 0
				for c := 0; c < 8; c++ {
					off := cornerOffsets[c]
					corners[c] = mc.sampleLocal(db.key, block, x+off[0], y+off[1], z+off[2])
					if corners[c] < 0 {
						cubeIndex |= 1 << c
					}
				}
				edges := edgeTable[cubeIndex]
				if edges == 0 {
					continue
				}

				for e := 0; e < 12; e++ {
					if edges&(1<<e) == 0 {
						continue
					}
					c0, c1 := edgeCorners[e][0], edgeCorners[e][1]
					p0 := cornerPosition(origin, voxelSize, x, y, z, c0)
					p1 := cornerPosition(origin, voxelSize, x, y, z, c1)
					edgeVerts[e] = interpolateCrossing(p0, p1, corners[c0], corners[c1])
				}

				row := triTable[cubeIndex]
				for t := 0; t+2 < len(row); t += 3 {
					if out.TriangleCount() >= mc.maxTriangles {
						return false
					}
					v0 := quantizeVec(edgeVerts[row[t]], VertexQuantization)
					v1 := quantizeVec(edgeVerts[row[t+1]], VertexQuantization)
					v2 := quantizeVec(edgeVerts[row[t+2]], VertexQuantization)
					if triangleDegenerate(v0, v1, v2) {
						continue
					}
					base := uint32(len(out.Vertices))
					for _, p := range [3]mgl32.Vec3{v0, v1, v2} {
						out.Vertices = append(out.Vertices, MeshVertex{
							Position: p,
							Normal:   mc.gradientNormal(p, voxelSize),
							Alpha:    alpha,
							Quality:  quality,
						})
					}
					out.Triangles = append(out.Triangles, base, base+1, base+2)
				}
			}
		}
	}
	return true
}

// cornerPosition is the world-space center of the voxel at the given cell
// corner.
func cornerPosition(origin mgl32.Vec3, voxelSize float32, x, y, z, corner int) mgl32.Vec3 {
	off := cornerOffsets[corner]
	return origin.Add(mgl32.Vec3{
		(float32(x+off[0]) + 0.5) * voxelSize,
		(float32(y+off[1]) + 0.5) * voxelSize,
		(float32(z+off[2]) + 0.5) * voxelSize,
	})
}

// interpolateCrossing places the surface crossing on an edge by linear
// interpolation of the corner SDFs, clamped away from the corners to
// suppress degenerate slivers.
func interpolateCrossing(p0, p1 mgl32.Vec3, sdf0, sdf1 float32) mgl32.Vec3 {
	t := float32(0.5)
	if math32.Abs(sdf1-sdf0) > 1e-6 {
		t = sdf0 / (sdf0 - sdf1)
	}
	t = clamp32(t, MCInterpMin, MCInterpMax)
	return mgl32.Vec3{
		mix32(p0.X(), p1.X(), t),
		mix32(p0.Y(), p1.Y(), t),
		mix32(p0.Z(), p1.Z(), t),
	}
}

// sampleLocal reads the normalized SDF at block-local voxel coordinates
// that may extend one voxel past the block edge, crossing into adjacent
// blocks. Missing neighbors yield the empty sentinel.
func (mc *MarchingCubes) sampleLocal(key BlockIndex, block *VoxelBlock, lx, ly, lz int) float32 {
	if lx < BlockEdge && ly < BlockEdge && lz < BlockEdge {
		return block.VoxelAt(lx, ly, lz).SDFValue()
	}
	nb := key
	if lx >= BlockEdge {
		nb.X++
		lx -= BlockEdge
	}
	if ly >= BlockEdge {
		nb.Y++
		ly -= BlockEdge
	}
	if lz >= BlockEdge {
		nb.Z++
		lz -= BlockEdge
	}
	poolIndex, ok := mc.table.Lookup(nb)
	if !ok {
		return EmptyVoxelSDF
	}
	return mc.pool.Block(poolIndex).VoxelAt(lx, ly, lz).SDFValue()
}

// sampleWorld reads the normalized SDF at a world position on the lattice
// of the given voxel size. Unallocated space is the empty sentinel.
func (mc *MarchingCubes) sampleWorld(p mgl32.Vec3, voxelSize float32) float32 {
	key := blockIndexForPosition(p, voxelSize)
	poolIndex, ok := mc.table.Lookup(key)
	if !ok {
		return EmptyVoxelSDF
	}
	vx := int(math32.Floor(p.X()/voxelSize)) - int(key.X)*BlockEdge
	vy := int(math32.Floor(p.Y()/voxelSize)) - int(key.Y)*BlockEdge
	vz := int(math32.Floor(p.Z()/voxelSize)) - int(key.Z)*BlockEdge
	vx = clampIndex(vx)
	vy = clampIndex(vy)
	vz = clampIndex(vz)
	return mc.pool.Block(poolIndex).VoxelAt(vx, vy, vz).SDFValue()
}

func clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i >= BlockEdge {
		return BlockEdge - 1
	}
	return i
}

// gradientNormal estimates the surface normal as the normalized SDF
// gradient by central differences with one-voxel spacing, crossing block
// boundaries through the hash table. Falls back to +Y where the field is
// flat.
func (mc *MarchingCubes) gradientNormal(p mgl32.Vec3, voxelSize float32) mgl32.Vec3 {
	h := voxelSize
	grad := mgl32.Vec3{
		mc.sampleWorld(p.Add(mgl32.Vec3{h, 0, 0}), voxelSize) - mc.sampleWorld(p.Sub(mgl32.Vec3{h, 0, 0}), voxelSize),
		mc.sampleWorld(p.Add(mgl32.Vec3{0, h, 0}), voxelSize) - mc.sampleWorld(p.Sub(mgl32.Vec3{0, h, 0}), voxelSize),
		mc.sampleWorld(p.Add(mgl32.Vec3{0, 0, h}), voxelSize) - mc.sampleWorld(p.Sub(mgl32.Vec3{0, 0, h}), voxelSize),
	}
	return safeUnit(grad)
}

// blockAlpha is the progressive-reveal fade: zero at the observation gate,
// easing out to one over MeshFadeInFrames further observations.
func blockAlpha(integrationGeneration uint32) float32 {
	tAge := clamp32(
		float32(int64(integrationGeneration)-MinObservationsBeforeMesh)/float32(MeshFadeInFrames),
		0, 1)
	return 1 - math32.Pow(1-tAge, 2.5)
}

// triangleDegenerate rejects triangles below the area floor or above the
// edge aspect bound.
func triangleDegenerate(v0, v1, v2 mgl32.Vec3) bool {
	e0 := v1.Sub(v0)
	e1 := v2.Sub(v0)
	e2 := v2.Sub(v1)
	area := e0.Cross(e1).Len() / 2
	if area < MinTriangleArea {
		return true
	}
	l0, l1, l2 := e0.Len(), e1.Len(), e2.Len()
	maxEdge := math32.Max(l0, math32.Max(l1, l2))
	minEdge := math32.Min(l0, math32.Min(l1, l2))
	if minEdge <= 0 {
		return true
	}
	return maxEdge/minEdge > MaxTriangleAspectRatio
}
