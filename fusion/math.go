package fusion

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Small geometric helpers shared by the integration and meshing paths.
// Poses are 4×4 camera-to-world matrices; the float32 scalar path goes
// through math32 so no float64 creeps into the SDF arithmetic.

// poseTranslation returns the translation column of a camera-to-world pose.
func poseTranslation(m mgl32.Mat4) mgl32.Vec3 {
	return m.Col(3).Vec3()
}

// rotationAngleBetween returns the relative rotation angle in radians
// between the 3×3 rotation blocks of two poses, via
// cos θ = (trace(R_a·R_bᵀ) − 1) / 2 with the cosine clamped to [-1, 1].
func rotationAngleBetween(a, b mgl32.Mat4) float32 {
	// trace(R_a·R_bᵀ) needs only the diagonal: Σ_i Σ_k a[i,k]·b[i,k].
	var trace float32
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			trace += a.At(i, k) * b.At(i, k)
		}
	}
	cos := clamp32((trace-1)/2, -1, 1)
	return math32.Acos(cos)
}

// clamp32 bounds v to [lo, hi].
func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// mix32 linearly interpolates between a and b.
func mix32(a, b, t float32) float32 {
	return a + (b-a)*t
}

// safeUnit normalizes v, falling back to +Y when its length is negligible.
func safeUnit(v mgl32.Vec3) mgl32.Vec3 {
	if l := v.Len(); l > 1e-6 {
		return v.Mul(1 / l)
	}
	return mgl32.Vec3{0, 1, 0}
}

// quantize snaps v to the given grid spacing.
func quantize(v, grid float32) float32 {
	return math32.Floor(v/grid+0.5) * grid
}

// quantizeVec snaps each component of v to the given grid spacing.
func quantizeVec(v mgl32.Vec3, grid float32) mgl32.Vec3 {
	return mgl32.Vec3{quantize(v.X(), grid), quantize(v.Y(), grid), quantize(v.Z(), grid)}
}
