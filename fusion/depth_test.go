package fusion

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptDepth_WindowBoundaries(t *testing.T) {
	// B2: the window is inclusive at both ends.
	assert.True(t, acceptDepth(DepthMin))
	assert.False(t, acceptDepth(DepthMin-1e-4))
	assert.True(t, acceptDepth(DepthMax))
	assert.False(t, acceptDepth(DepthMax+1e-4))
	assert.False(t, acceptDepth(math32.NaN()))
}

func TestImageDepthBuffer_PlaneSizesChecked(t *testing.T) {
	_, err := NewImageDepthBuffer(4, 4, make([]float32, 15), nil)
	assert.Error(t, err)
	_, err = NewImageDepthBuffer(4, 4, make([]float32, 16), make([]uint8, 3))
	assert.Error(t, err)
}

func TestImageDepthBuffer_Access(t *testing.T) {
	depth := make([]float32, 16)
	conf := make([]uint8, 16)
	depth[2*4+1] = 1.5
	conf[2*4+1] = 2
	buf, err := NewImageDepthBuffer(4, 4, depth, conf)
	require.NoError(t, err)

	assert.Equal(t, float32(1.5), buf.DepthAt(1, 2))
	assert.Equal(t, uint8(2), buf.ConfidenceAt(1, 2))

	// Out-of-bounds reads are invalid, not panics.
	assert.True(t, math32.IsNaN(buf.DepthAt(4, 0)))
	assert.True(t, math32.IsNaN(buf.DepthAt(-1, 0)))
	assert.Equal(t, uint8(0), buf.ConfidenceAt(0, 4))
}

func TestImageDepthBuffer_NilConfidenceIsHigh(t *testing.T) {
	buf, err := NewImageDepthBuffer(2, 2, make([]float32, 4), nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), buf.ConfidenceAt(0, 0))
}

func TestCameraIntrinsics_ProjectBackprojectRoundTrip(t *testing.T) {
	intr := CameraIntrinsics{Fx: 100, Fy: 100, Cx: 32, Cy: 24}
	p := intr.backproject(40, 20, 2.0)
	px, py := intr.project(p)
	assert.InDelta(t, 40, px, 1e-4)
	assert.InDelta(t, 20, py, 1e-4)
	assert.InDelta(t, 2.0, p.Z(), 1e-6)
}
