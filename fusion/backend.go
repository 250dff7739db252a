package fusion

import "unsafe"

// ActiveBlock names one block resolved by the volume manager for this
// frame's update pass.
type ActiveBlock struct {
	Index     BlockIndex
	PoolIndex int32
}

// IntegrationStats is the backend's per-frame report. GPUTimeMs drives the
// thermal AIMD controller; stats are recorded even when the frame is
// ultimately reported late.
type IntegrationStats struct {
	BlocksUpdated   int
	BlocksAllocated int
	VoxelsUpdated   int
	GPUTimeMs       float64
	TotalTimeMs     float64
}

// VoxelAccessor is the backend's window onto block storage. ReadBlock
// returns the live block for in-place read-write; WriteBlock exists for
// backends that stage updates elsewhere and commit whole blocks. The base
// address and byte count describe the stable bindable range of the pool.
type VoxelAccessor interface {
	ReadBlock(poolIndex int32) *VoxelBlock
	WriteBlock(poolIndex int32, block *VoxelBlock)
	BaseAddress() unsafe.Pointer
	ByteCount() int
	Capacity() int
}

// BackendCaps describes optional behaviors a backend implements.
// AppliesCarving marks backends that consume CarvingDecayRate to shrink
// weights along observed free-space rays; the CPU reference does not.
type BackendCaps struct {
	NeedsBaseAddress bool
	AppliesCarving   bool
}

// IntegrationBackend performs the per-voxel projective SDF update for one
// frame over the active block set. Implementations: the CPU reference
// (normative arithmetic), GPU compute backends, and test mocks. The volume
// manager guarantees single-writer access to the voxel state for the
// duration of the call.
type IntegrationBackend interface {
	Name() string
	Caps() BackendCaps
	ProcessFrame(input IntegrationInput, depth DepthDataProvider, voxels VoxelAccessor, active []ActiveBlock) (IntegrationStats, error)
}

// poolAccessor adapts BlockPool to VoxelAccessor.
type poolAccessor struct {
	pool *BlockPool
}

func (a poolAccessor) ReadBlock(poolIndex int32) *VoxelBlock { return a.pool.Block(poolIndex) }

func (a poolAccessor) WriteBlock(poolIndex int32, block *VoxelBlock) {
	*a.pool.Block(poolIndex) = *block
}

func (a poolAccessor) BaseAddress() unsafe.Pointer { return a.pool.BaseAddress() }
func (a poolAccessor) ByteCount() int              { return a.pool.ByteCount() }
func (a poolAccessor) Capacity() int               { return a.pool.Capacity() }
