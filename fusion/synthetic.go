package fusion

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Synthetic scan input: an analytic scene rendered to depth images plus an
// orbit pose generator. The CLI and the behavioral tests drive full
// sessions through it deterministically, with no sensor attached.

// SphereScene is a single sphere in open space. Rays that miss report
// invalid depth.
type SphereScene struct {
	Center mgl32.Vec3
	Radius float32
	// Confidence is the per-pixel sensor confidence reported for hits.
	Confidence uint8
}

// RenderDepth ray-casts the scene from the given pose into a depth buffer
// of the given size.
func (s SphereScene) RenderDepth(pose mgl32.Mat4, intr CameraIntrinsics, width, height int) *ImageDepthBuffer {
	depth := make([]float32, width*height)
	confidence := make([]uint8, width*height)
	origin := poseTranslation(pose)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			// Camera-space ray with z = 1, so the ray parameter of a hit
			// is directly the pinhole depth.
			camDir := intr.backproject(float32(x), float32(y), 1)
			worldDir := pose.Mul4x1(camDir.Vec4(0)).Vec3()

			i := y*width + x
			depth[i] = math32.NaN()
			if t, hit := raySphere(origin, worldDir, s.Center, s.Radius); hit {
				depth[i] = t
				confidence[i] = s.Confidence
			}
		}
	}
	buf, _ := NewImageDepthBuffer(width, height, depth, confidence)
	return buf
}

// raySphere solves |o + t·d − c|² = r² for the smallest positive t. d need
// not be unit length.
func raySphere(o, d, c mgl32.Vec3, r float32) (float32, bool) {
	oc := o.Sub(c)
	a := d.Dot(d)
	b := 2 * d.Dot(oc)
	cc := oc.Dot(oc) - r*r
	disc := b*b - 4*a*cc
	if disc < 0 || a == 0 {
		return 0, false
	}
	sq := math32.Sqrt(disc)
	t := (-b - sq) / (2 * a)
	if t <= 0 {
		t = (-b + sq) / (2 * a)
	}
	if t <= 0 {
		return 0, false
	}
	return t, true
}

// LookAtPose builds a camera-to-world pose at eye looking toward target,
// with the camera's +Z axis as the viewing direction.
func LookAtPose(eye, target mgl32.Vec3) mgl32.Mat4 {
	forward := safeUnit(target.Sub(eye))
	right := safeUnit(mgl32.Vec3{0, 1, 0}.Cross(forward))
	up := forward.Cross(right)
	return mgl32.Mat4FromCols(right.Vec4(0), up.Vec4(0), forward.Vec4(0), eye.Vec4(1))
}

// OrbitPose places the camera on a horizontal circle of the given radius
// around target, at the given angle, looking inward.
func OrbitPose(target mgl32.Vec3, radius, height, angle float32) mgl32.Mat4 {
	eye := target.Add(mgl32.Vec3{
		radius * math32.Cos(angle),
		height,
		radius * math32.Sin(angle),
	})
	return LookAtPose(eye, target)
}
