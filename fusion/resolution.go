package fusion

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Adaptive resolution: voxel size is chosen per block from the measured
// depth of the observation that allocates it, trading accuracy near the
// sensor for coverage far from it.

// voxelSizeForDepth selects the resolution tier for a measurement at depth
// d meters.
func voxelSizeForDepth(d float32) float32 {
	switch {
	case d < DepthNearThreshold:
		return VoxelSizeNear
	case d < DepthFarThreshold:
		return VoxelSizeMid
	default:
		return VoxelSizeFar
	}
}

// truncationForVoxelSize returns the truncation distance τ for a tier. The
// guard multiplier keeps τ at least two voxels wide so the zero crossing is
// always representable.
func truncationForVoxelSize(voxelSize float32) float32 {
	tau := math32.Max(TruncationMultiplier*voxelSize, TruncationFloorMeters)
	return math32.Max(tau, TruncationGuardMultiplier*voxelSize)
}

// confidenceWeight maps a sensor confidence level to its observation
// weight factor. Levels at or above 2 are fully trusted.
func confidenceWeight(confidence uint8) float32 {
	switch confidence {
	case 0:
		return ConfidenceWeightLow
	case 1:
		return ConfidenceWeightMid
	default:
		return ConfidenceWeightHigh
	}
}

// distanceWeight decays observation weight quadratically with measured
// depth: 1 / (1 + α·d²).
func distanceWeight(d float32) float32 {
	return 1 / (1 + DistanceDecayAlpha*d*d)
}

// viewAngleWeight scales by the alignment of the viewing ray with the
// surface normal, floored so grazing observations still contribute.
func viewAngleWeight(viewRay, normal mgl32.Vec3) float32 {
	return math32.Max(ViewAngleWeightFloor, math32.Abs(viewRay.Dot(normal)))
}

// observationWeight combines the three factors multiplicatively.
func observationWeight(confidence uint8, depth float32, viewRay, normal mgl32.Vec3) float32 {
	return confidenceWeight(confidence) * distanceWeight(depth) * viewAngleWeight(viewRay, normal)
}
