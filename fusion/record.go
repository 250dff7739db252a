package fusion

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// IntegrationRecord is the observational log entry for one integrated
// frame. Downstream consumers (bundling, relocalization) read keyframes
// from here; the engine itself never reads the log back.
type IntegrationRecord struct {
	Timestamp  float64
	Pose       mgl32.Mat4
	Intrinsics CameraIntrinsics
	// BlockIDs are the blocks touched by this frame's integration.
	BlockIDs   []BlockIndex
	IsKeyframe bool
	KeyframeID string
}

// IntegrationLog is a fixed-capacity circular log of per-session
// integration records. Oldest entries are overwritten once full.
type IntegrationLog struct {
	records []IntegrationRecord
	next    int
	size    int
}

// NewIntegrationLog creates a log holding up to capacity records.
func NewIntegrationLog(capacity int) *IntegrationLog {
	return &IntegrationLog{records: make([]IntegrationRecord, capacity)}
}

// Push appends a record, overwriting the oldest when full.
func (l *IntegrationLog) Push(r IntegrationRecord) {
	l.records[l.next] = r
	l.next = (l.next + 1) % len(l.records)
	if l.size < len(l.records) {
		l.size++
	}
}

// Len reports the number of retained records.
func (l *IntegrationLog) Len() int { return l.size }

// At returns the i-th retained record, oldest first.
func (l *IntegrationLog) At(i int) IntegrationRecord {
	if i < 0 || i >= l.size {
		panic("integration log index out of range")
	}
	start := l.next - l.size
	if start < 0 {
		start += len(l.records)
	}
	return l.records[(start+i)%len(l.records)]
}

// Reset drops all records.
func (l *IntegrationLog) Reset() {
	l.next = 0
	l.size = 0
}

// keyframePicker marks frames significant by interval, translation, or
// rotation since the last keyframe.
type keyframePicker struct {
	havePrev  bool
	prevPose  mgl32.Mat4
	lastFrame uint64
}

// consider returns (isKeyframe, keyframeID) for the frame at the given
// submission count. The first integrated frame is always a keyframe.
func (k *keyframePicker) consider(frameCount uint64, pose mgl32.Mat4) (bool, string) {
	mark := false
	if !k.havePrev {
		mark = true
	} else {
		if frameCount-k.lastFrame >= KeyframeInterval {
			mark = true
		}
		if poseTranslation(pose).Sub(poseTranslation(k.prevPose)).Len() >= KeyframeTranslationMeters {
			mark = true
		}
		if rotationAngleBetween(pose, k.prevPose) >= KeyframeRotationDegrees*degToRad {
			mark = true
		}
	}
	if !mark {
		return false, ""
	}
	k.havePrev = true
	k.prevPose = pose
	k.lastFrame = frameCount
	return true, uuid.NewString()
}

func (k *keyframePicker) reset() {
	k.havePrev = false
	k.lastFrame = 0
}

const degToRad = math.Pi / 180
