package fusion

import (
	"github.com/go-gl/mathgl/mgl32"
)

// timedPose is one accepted camera pose with its frame timestamp.
type timedPose struct {
	timestamp float64
	pose      mgl32.Mat4
}

// PoseHistory is a bounded deque of recently accepted poses used for
// motion-tier decisions: idle detection (anticipatory allocation), mesh
// deferral while the device sweeps fast, and velocity extrapolation.
type PoseHistory struct {
	poses []timedPose
	cap   int
}

// NewPoseHistory creates a history bounded to the given capacity.
func NewPoseHistory(capacity int) *PoseHistory {
	return &PoseHistory{cap: capacity}
}

// Push appends an accepted pose, evicting the oldest beyond capacity.
func (h *PoseHistory) Push(timestamp float64, pose mgl32.Mat4) {
	h.poses = append(h.poses, timedPose{timestamp: timestamp, pose: pose})
	if len(h.poses) > h.cap {
		h.poses = h.poses[1:]
	}
}

// Len reports the number of retained poses.
func (h *PoseHistory) Len() int { return len(h.poses) }

// Reset drops all retained poses.
func (h *PoseHistory) Reset() { h.poses = h.poses[:0] }

// Speeds returns the translational (m/s) and angular (rad/s) speed over
// the two most recent poses. With fewer than two poses both are zero
// (treated as still); non-increasing timestamps fall back to the
// AssumedFrameRate spacing.
func (h *PoseHistory) Speeds() (float32, float32) {
	n := len(h.poses)
	if n < 2 {
		return 0, 0
	}
	prev, cur := h.poses[n-2], h.poses[n-1]
	dt := float32(cur.timestamp - prev.timestamp)
	if dt <= 0 {
		dt = 1 / AssumedFrameRate
	}
	translation := poseTranslation(cur.pose).Sub(poseTranslation(prev.pose)).Len() / dt
	angular := rotationAngleBetween(cur.pose, prev.pose) / dt
	return translation, angular
}

// Velocity returns the translational velocity vector (m/s) over the two
// most recent poses, zero when the history is short.
func (h *PoseHistory) Velocity() mgl32.Vec3 {
	n := len(h.poses)
	if n < 2 {
		return mgl32.Vec3{}
	}
	prev, cur := h.poses[n-2], h.poses[n-1]
	dt := float32(cur.timestamp - prev.timestamp)
	if dt <= 0 {
		dt = 1 / AssumedFrameRate
	}
	return poseTranslation(cur.pose).Sub(poseTranslation(prev.pose)).Mul(1 / dt)
}

// MotionTier classifies the current camera motion.
type MotionTier int

const (
	// MotionIdle: essentially still; integration anticipates the next
	// position instead of re-observing the same surface.
	MotionIdle MotionTier = iota
	// MotionScanning: nominal handheld sweep.
	MotionScanning
	// MotionFast: too fast for useful meshing; extraction defers.
	MotionFast
)

// Tier classifies the motion from the recent speeds.
func (h *PoseHistory) Tier() MotionTier {
	translation, angular := h.Speeds()
	if translation > MotionDeferTranslationSpeed || angular > MotionDeferAngularSpeed {
		return MotionFast
	}
	if translation < IdleTranslationSpeed && angular < IdleAngularSpeed {
		return MotionIdle
	}
	return MotionScanning
}
