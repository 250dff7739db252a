package fusion

import (
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// CPUBackend is the reference integration backend. Its per-voxel arithmetic
// is the normative definition of the update; GPU backends must match it on
// the CPU-visible state.
type CPUBackend struct {
	// SkipLowConfidence rejects pixels the sensor marked as confidence 0
	// instead of integrating them with the low-confidence weight.
	SkipLowConfidence bool
}

// NewCPUBackend returns the reference backend. skipLowConfidence must be
// the same setting the volume manager filters pixels with
// (VolumeConfig.SkipLowConfidence): it is one knob, applied both during
// block collection and per voxel here.
func NewCPUBackend(skipLowConfidence bool) *CPUBackend {
	return &CPUBackend{SkipLowConfidence: skipLowConfidence}
}

func (b *CPUBackend) Name() string { return "cpu-reference" }

// Caps: the reference path binds no GPU buffer and performs no space
// carving (free space beyond τ is skipped, not decayed).
func (b *CPUBackend) Caps() BackendCaps { return BackendCaps{} }

// placeholderNormal stands in for the surface normal during viewing-angle
// weighting until per-voxel normals are available.
var placeholderNormal = mgl32.Vec3{0, 1, 0}

// ProcessFrame projects every voxel of every active block into the depth
// image and folds accepted measurements into the weighted SDF average.
func (b *CPUBackend) ProcessFrame(input IntegrationInput, depth DepthDataProvider, voxels VoxelAccessor, active []ActiveBlock) (IntegrationStats, error) {
	started := time.Now()
	stats := IntegrationStats{}

	worldToCamera := input.Pose.Inv()
	cameraPos := poseTranslation(input.Pose)
	width, height := depth.Width(), depth.Height()

	for _, ab := range active {
		block := voxels.ReadBlock(ab.PoolIndex)
		voxelSize := block.VoxelSize
		tau := block.Truncation()
		origin := ab.Index.origin(voxelSize)

		updated := 0
		for x := 0; x < BlockEdge; x++ {
			for y := 0; y < BlockEdge; y++ {
				for z := 0; z < BlockEdge; z++ {
					center := origin.Add(mgl32.Vec3{
						(float32(x) + 0.5) * voxelSize,
						(float32(y) + 0.5) * voxelSize,
						(float32(z) + 0.5) * voxelSize,
					})
					camP := worldToCamera.Mul4x1(center.Vec4(1)).Vec3()
					if camP.Z() <= 0 {
						continue
					}
					px, py := input.Intrinsics.project(camP)
					ix := int(math32.Floor(px + 0.5))
					iy := int(math32.Floor(py + 0.5))
					if ix < 0 || ix >= width || iy < 0 || iy >= height {
						continue
					}
					zm := depth.DepthAt(ix, iy)
					if !acceptDepth(zm) {
						continue
					}
					conf := depth.ConfidenceAt(ix, iy)
					if b.SkipLowConfidence && conf == 0 {
						continue
					}

					sdfRaw := zm - camP.Z()
					if sdfRaw > tau {
						// Free space beyond the truncation band. The
						// reference path skips; carving decay is left to
						// backends that advertise AppliesCarving.
						continue
					}
					sdfN := clamp32(sdfRaw/tau, -1, 1)

					viewRay := safeUnit(center.Sub(cameraPos))
					wObs := observationWeight(conf, zm, viewRay, placeholderNormal)

					v := &block.Voxels[voxelOffset(x, y, z)]
					w := float32(v.Weight)
					v.setSDF((v.SDFValue()*w + sdfN*wObs) / (w + wObs))
					// Ceiling keeps sub-unit observation weights accumulating
					// through the 8-bit store.
					v.Weight = uint8(math32.Min(math32.Ceil(w+wObs), MaxVoxelWeight))
					if conf > v.Confidence {
						v.Confidence = conf
					}
					updated++
				}
			}
		}

		block.IntegrationGeneration++
		block.LastObservedTimestamp = input.Timestamp
		if updated > 0 {
			stats.BlocksUpdated++
			stats.VoxelsUpdated += updated
		}
	}

	elapsed := float64(time.Since(started).Microseconds()) / 1000.0
	stats.GPUTimeMs = elapsed
	stats.TotalTimeMs = elapsed
	return stats, nil
}
