package fusion

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// TrackingState mirrors the camera tracker's own quality report. Only
// Normal frames are integrated.
type TrackingState int

const (
	TrackingNormal TrackingState = iota
	TrackingLimited
	TrackingLost
)

func (s TrackingState) String() string {
	switch s {
	case TrackingNormal:
		return "normal"
	case TrackingLimited:
		return "limited"
	case TrackingLost:
		return "lost"
	}
	return "unknown"
}

// CameraIntrinsics is the pinhole projection model of the depth sensor.
type CameraIntrinsics struct {
	Fx, Fy float32 // focal lengths in pixels
	Cx, Cy float32 // principal point in pixels
}

// project maps a camera-space point (z > 0) to pixel coordinates.
func (c CameraIntrinsics) project(p mgl32.Vec3) (float32, float32) {
	return p.X()/p.Z()*c.Fx + c.Cx, p.Y()/p.Z()*c.Fy + c.Cy
}

// backproject maps pixel coordinates at measured depth z to a camera-space
// point.
func (c CameraIntrinsics) backproject(px, py, z float32) mgl32.Vec3 {
	return mgl32.Vec3{(px - c.Cx) / c.Fx * z, (py - c.Cy) / c.Fy * z, z}
}

// IntegrationInput is the platform-agnostic per-frame description handed to
// Integrate. Pose is camera-to-world; Width/Height are the depth image
// dimensions of the accompanying DepthDataProvider.
type IntegrationInput struct {
	Timestamp float64 // session seconds
	Intrinsics CameraIntrinsics
	Pose      mgl32.Mat4
	Width     int
	Height    int
	Tracking  TrackingState
}

// DepthDataProvider is random access into one depth frame. DepthAt returns
// meters with NaN marking invalid pixels; ConfidenceAt returns the sensor's
// 0 (low) / 1 (mid) / 2 (high) per-pixel confidence.
type DepthDataProvider interface {
	Width() int
	Height() int
	DepthAt(x, y int) float32
	ConfidenceAt(x, y int) uint8
}

// ImageDepthBuffer is a slice-backed DepthDataProvider over raw depth and
// confidence planes, row-major.
type ImageDepthBuffer struct {
	width, height int
	depth         []float32
	confidence    []uint8
}

// NewImageDepthBuffer wraps raw planes. The confidence plane may be nil, in
// which case every pixel reports high confidence.
func NewImageDepthBuffer(width, height int, depth []float32, confidence []uint8) (*ImageDepthBuffer, error) {
	if len(depth) != width*height {
		return nil, fmt.Errorf("depth plane has %d samples, want %d", len(depth), width*height)
	}
	if confidence != nil && len(confidence) != width*height {
		return nil, fmt.Errorf("confidence plane has %d samples, want %d", len(confidence), width*height)
	}
	return &ImageDepthBuffer{width: width, height: height, depth: depth, confidence: confidence}, nil
}

func (b *ImageDepthBuffer) Width() int  { return b.width }
func (b *ImageDepthBuffer) Height() int { return b.height }

func (b *ImageDepthBuffer) DepthAt(x, y int) float32 {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return math32.NaN()
	}
	return b.depth[y*b.width+x]
}

func (b *ImageDepthBuffer) ConfidenceAt(x, y int) uint8 {
	if b.confidence == nil {
		return 2
	}
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return 0
	}
	return b.confidence[y*b.width+x]
}

// acceptDepth applies the measurement window shared by block collection and
// the integration backend: finite and within [DepthMin, DepthMax].
func acceptDepth(z float32) bool {
	return !math32.IsNaN(z) && z >= DepthMin && z <= DepthMax
}
