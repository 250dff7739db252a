package fusion

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestRotationAngleBetween(t *testing.T) {
	a := mgl32.Ident4()
	assert.InDelta(t, 0.0, rotationAngleBetween(a, a), 1e-5)

	b := mgl32.HomogRotate3DY(0.5)
	assert.InDelta(t, 0.5, rotationAngleBetween(a, b), 1e-4)

	// Translation does not contribute.
	c := mgl32.Translate3D(3, 0, 0).Mul4(mgl32.HomogRotate3DX(1.2))
	assert.InDelta(t, 1.2, rotationAngleBetween(a, c), 1e-4)
}

func TestQuantize(t *testing.T) {
	assert.InDelta(t, 0.0005, quantize(0.00071, VertexQuantization), 1e-7)
	assert.InDelta(t, 0.0, quantize(0.0002, VertexQuantization), 1e-7)
	assert.InDelta(t, -0.0005, quantize(-0.0006, VertexQuantization), 1e-7)
}

func TestSafeUnit_FallbackOnDegenerate(t *testing.T) {
	v := safeUnit(mgl32.Vec3{0, 0, 0})
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, v)

	u := safeUnit(mgl32.Vec3{3, 0, 0})
	assert.InDelta(t, 1.0, u.X(), 1e-6)
}

func TestClampMix(t *testing.T) {
	assert.Equal(t, float32(0.1), clamp32(0.05, 0.1, 0.9))
	assert.Equal(t, float32(0.9), clamp32(1.5, 0.1, 0.9))
	assert.Equal(t, float32(0.5), mix32(0, 1, 0.5))
}
