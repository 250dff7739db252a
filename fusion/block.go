package fusion

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/x448/float16"
)

// BlockIndex addresses an axis-aligned cube of BlockEdge³ voxels on the
// integer block lattice. Equality is field-wise; the Teschner hash below is
// the probe start for the spatial hash table.
type BlockIndex struct {
	X, Y, Z int32
}

// blockIndexForPosition maps a world position to the block containing it at
// the given voxel size. Floor rounds toward negative infinity so the lattice
// is seamless across the origin.
func blockIndexForPosition(p mgl32.Vec3, voxelSize float32) BlockIndex {
	span := voxelSize * BlockEdge
	return BlockIndex{
		X: int32(math32.Floor(p.X() / span)),
		Y: int32(math32.Floor(p.Y() / span)),
		Z: int32(math32.Floor(p.Z() / span)),
	}
}

// hashSlot folds the Teschner spatial hash of the index onto a power-of-two
// table size. Multiplication wraps in int32; the fold takes the absolute
// value before the modulo so negative lattice coordinates land in range.
func (b BlockIndex) hashSlot(capacity int) int {
	h := int64(int32(b.X*hashPrimeX) ^ int32(b.Y*hashPrimeY) ^ int32(b.Z*hashPrimeZ))
	if h < 0 {
		h = -h
	}
	return int(h % int64(capacity))
}

// origin returns the world-space minimum corner of the block.
func (b BlockIndex) origin(voxelSize float32) mgl32.Vec3 {
	span := voxelSize * BlockEdge
	return mgl32.Vec3{float32(b.X) * span, float32(b.Y) * span, float32(b.Z) * span}
}

// center returns the world-space center of the block.
func (b BlockIndex) center(voxelSize float32) mgl32.Vec3 {
	half := voxelSize * BlockEdge / 2
	return b.origin(voxelSize).Add(mgl32.Vec3{half, half, half})
}

// offset returns the face-adjacent neighbor index displaced by (dx, dy, dz).
func (b BlockIndex) offset(dx, dy, dz int32) BlockIndex {
	return BlockIndex{X: b.X + dx, Y: b.Y + dy, Z: b.Z + dz}
}

// Voxel is the fixed 4-byte TSDF sample. The SDF is stored in IEEE-754 half
// precision, normalized to [-1, +1] by the block's truncation distance.
// Weight accumulates observation confidence up to MaxVoxelWeight.
// Confidence is monotonically non-decreasing over the voxel's lifetime.
type Voxel struct {
	SDF        float16.Float16
	Weight     uint8
	Confidence uint8
}

// emptyVoxel is the unobserved sentinel: +1 normalized SDF (free space at
// the far edge of the truncation band), zero weight, zero confidence. The
// +1 sentinel keeps out-of-block marching cubes sampling branch-free.
func emptyVoxel() Voxel {
	return Voxel{SDF: float16.Fromfloat32(EmptyVoxelSDF)}
}

// SDFValue returns the normalized SDF as float32.
func (v Voxel) SDFValue() float32 {
	return v.SDF.Float32()
}

// setSDF clamps to [-1, +1] in float32 before the half conversion so the
// round trip cannot leave the normalized range.
func (v *Voxel) setSDF(sdf float32) {
	v.SDF = float16.Fromfloat32(clamp32(sdf, -1, 1))
}

// VoxelBlock is the 8×8×8 allocation and dirty-tracking unit. Voxels are
// row-major with x outermost and z innermost. The voxel size is fixed at
// allocation from the adaptive resolution tier of the first observation.
type VoxelBlock struct {
	Voxels [VoxelsPerBlock]Voxel

	VoxelSize float32
	// IntegrationGeneration increments on every integration touch;
	// MeshGeneration trails it and is advanced by the mesh extractor.
	// A block is dirty while MeshGeneration < IntegrationGeneration.
	IntegrationGeneration uint32
	MeshGeneration        uint32
	// LastObservedTimestamp is the session time of the last integration,
	// in seconds. Drives LRU and stale eviction.
	LastObservedTimestamp float64
}

// voxelOffset flattens local coordinates to the row-major voxel index.
func voxelOffset(x, y, z int) int {
	return x*BlockEdge*BlockEdge + y*BlockEdge + z
}

// VoxelAt returns the voxel at local coordinates (x, y, z) ∈ [0, 8).
func (b *VoxelBlock) VoxelAt(x, y, z int) Voxel {
	return b.Voxels[voxelOffset(x, y, z)]
}

// reset reinitializes the block for reuse from the pool.
func (b *VoxelBlock) reset(voxelSize float32) {
	empty := emptyVoxel()
	for i := range b.Voxels {
		b.Voxels[i] = empty
	}
	b.VoxelSize = voxelSize
	b.IntegrationGeneration = 0
	b.MeshGeneration = 0
	b.LastObservedTimestamp = 0
}

// Truncation returns the block's truncation distance τ.
func (b *VoxelBlock) Truncation() float32 {
	return truncationForVoxelSize(b.VoxelSize)
}

// weightSum totals the observation weight over all voxels. The mesh
// extractor uses it as the block convergence measure.
func (b *VoxelBlock) weightSum() int {
	sum := 0
	for i := range b.Voxels {
		sum += int(b.Voxels[i].Weight)
	}
	return sum
}
