package fusion

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSphereScene_CenterPixelDepth(t *testing.T) {
	// GIVEN a camera 2 m from a 0.5 m sphere, looking at its center
	scene := SphereScene{Center: mgl32.Vec3{0, 0, 0}, Radius: 0.5, Confidence: 2}
	pose := LookAtPose(mgl32.Vec3{0, 0, -2}, scene.Center)
	intr := CameraIntrinsics{Fx: 100, Fy: 100, Cx: 32, Cy: 32}

	buf := scene.RenderDepth(pose, intr, 64, 64)

	// THEN the central ray measures the front of the sphere
	assert.InDelta(t, 1.5, buf.DepthAt(32, 32), 1e-3)
	assert.Equal(t, uint8(2), buf.ConfidenceAt(32, 32))
	// Corner rays miss.
	assert.True(t, math32.IsNaN(buf.DepthAt(0, 0)))
}

func TestLookAtPose_Orthonormal(t *testing.T) {
	pose := LookAtPose(mgl32.Vec3{1, 2, 3}, mgl32.Vec3{0, 0, 0})

	right := pose.Col(0).Vec3()
	up := pose.Col(1).Vec3()
	forward := pose.Col(2).Vec3()

	assert.InDelta(t, 1.0, right.Len(), 1e-5)
	assert.InDelta(t, 1.0, up.Len(), 1e-5)
	assert.InDelta(t, 1.0, forward.Len(), 1e-5)
	assert.InDelta(t, 0.0, right.Dot(up), 1e-5)
	assert.InDelta(t, 0.0, right.Dot(forward), 1e-5)
	assert.InDelta(t, 0.0, up.Dot(forward), 1e-5)

	// The viewing axis points from the eye toward the target.
	want := safeUnit(mgl32.Vec3{-1, -2, -3})
	assert.InDelta(t, want.X(), forward.X(), 1e-5)
	assert.InDelta(t, want.Y(), forward.Y(), 1e-5)
	assert.InDelta(t, want.Z(), forward.Z(), 1e-5)
}

func TestOrbitPose_StaysOnCircle(t *testing.T) {
	target := mgl32.Vec3{1, 0, 1}
	for i := 0; i < 8; i++ {
		pose := OrbitPose(target, 2.0, 0.5, float32(i)*0.7)
		eye := poseTranslation(pose)
		horizontal := mgl32.Vec3{eye.X() - target.X(), 0, eye.Z() - target.Z()}
		assert.InDelta(t, 2.0, horizontal.Len(), 1e-5)
		assert.InDelta(t, 0.5, eye.Y()-target.Y(), 1e-5)
	}
}

func TestRaySphere(t *testing.T) {
	// Head-on hit from 2 m.
	tHit, ok := raySphere(mgl32.Vec3{0, 0, -2}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 0, 0}, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 1.5, tHit, 1e-5)

	// Miss.
	_, ok = raySphere(mgl32.Vec3{0, 0, -2}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 0}, 0.5)
	assert.False(t, ok)

	// Sphere behind the ray.
	_, ok = raySphere(mgl32.Vec3{0, 0, 2}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 0, 0}, 0.5)
	assert.False(t, ok)
}
