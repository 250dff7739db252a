package fusion

import "fmt"

// VolumeConfig groups the construction parameters of a Volume. The zero
// value is not usable; start from DefaultVolumeConfig.
type VolumeConfig struct {
	// PoolCapacity is the fixed number of pre-allocated voxel blocks and
	// the live-block cap (must be > 0).
	PoolCapacity int
	// HashCapacity is the initial hash table slot count (rounded up to a
	// power of two, must be > 0).
	HashCapacity int
	// MaxTrianglesPerCycle caps one mesh extraction pass (must be > 0).
	MaxTrianglesPerCycle int
	// SkipLowConfidence rejects confidence-0 pixels outright instead of
	// integrating them at the low-confidence weight.
	SkipLowConfidence bool
}

// DefaultVolumeConfig returns the production parameter set.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{
		PoolCapacity:         MaxTotalVoxelBlocks,
		HashCapacity:         HashInitialCapacity,
		MaxTrianglesPerCycle: MaxTrianglesPerCycle,
	}
}

// Validate returns an error describing the first invalid field.
func (c VolumeConfig) Validate() error {
	if c.PoolCapacity <= 0 {
		return fmt.Errorf("PoolCapacity must be positive, got %d", c.PoolCapacity)
	}
	if c.PoolCapacity > MaxTotalVoxelBlocks {
		return fmt.Errorf("PoolCapacity %d exceeds MaxTotalVoxelBlocks %d", c.PoolCapacity, MaxTotalVoxelBlocks)
	}
	if c.HashCapacity <= 0 {
		return fmt.Errorf("HashCapacity must be positive, got %d", c.HashCapacity)
	}
	if c.MaxTrianglesPerCycle <= 0 {
		return fmt.Errorf("MaxTrianglesPerCycle must be positive, got %d", c.MaxTrianglesPerCycle)
	}
	return nil
}
