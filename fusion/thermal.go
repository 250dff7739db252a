package fusion

import "github.com/sirupsen/logrus"

// ThermalController manages the integration skip rate with two tiers: an
// externally supplied ceiling derived from the host OS thermal state, and
// an internal AIMD skip within that ceiling. Skip N means one frame in N is
// integrated.
//
// AIMD: after ThermalRecoverGoodFrames consecutive good frames the skip
// decreases by one (additive recovery); a single bad frame doubles it
// (multiplicative backoff), capped by the ceiling and the hard maximum.
type ThermalController struct {
	skip       int
	ceiling    int
	goodStreak int

	lastCeilingChange float64
	haveCeilingChange bool
}

// NewThermalController starts at full rate under a nominal thermal state.
func NewThermalController() *ThermalController {
	return &ThermalController{skip: 1, ceiling: thermalCeilingForState(0)}
}

// thermalCeilingForState maps the host thermal state enum (0 nominal … 3
// critical) to the skip ceiling.
func thermalCeilingForState(state int) int {
	switch state {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	default:
		return ThermalMaxIntegrationSkip
	}
}

// Skip returns the current integration skip count (≥ 1).
func (t *ThermalController) Skip() int { return t.skip }

// Ceiling returns the active system thermal ceiling.
func (t *ThermalController) Ceiling() int { return t.ceiling }

// ShouldIntegrate reports whether the frame at the given submission count
// passes the thermal gate.
func (t *ThermalController) ShouldIntegrate(frameCount uint64) bool {
	return frameCount%uint64(t.skip) == 0
}

// OnFrameStats feeds one integrated frame's timing into the AIMD loop.
func (t *ThermalController) OnFrameStats(gpuTimeMs float64) {
	if gpuTimeMs < IntegrationTimeoutMs*GoodFrameGPUFraction {
		t.goodStreak++
		if t.goodStreak >= ThermalRecoverGoodFrames {
			if t.skip > 1 {
				t.skip--
				logrus.Debugf("thermal: additive recovery, skip=%d", t.skip)
			}
			t.goodStreak = 0
		}
		return
	}
	next := t.skip * 2
	if next > t.ceiling {
		next = t.ceiling
	}
	if next > ThermalMaxIntegrationSkip {
		next = ThermalMaxIntegrationSkip
	}
	if next < 1 {
		next = 1
	}
	if next != t.skip {
		logrus.Debugf("thermal: backoff, skip %d -> %d", t.skip, next)
	}
	t.skip = next
	t.goodStreak = 0
}

// SetThermalState applies a host thermal state change with asymmetric
// hysteresis: a rising ceiling (thermal worsens) is ignored within
// ThermalRaiseCooldownSec of the last applied change, a falling one within
// ThermalFallCooldownSec. On rise the skip is immediately clamped up to at
// least the new ceiling; on fall it is clamped down to at most the ceiling.
func (t *ThermalController) SetThermalState(state int, now float64) {
	ceiling := thermalCeilingForState(state)
	if ceiling == t.ceiling {
		return
	}
	cooldown := ThermalFallCooldownSec
	if ceiling > t.ceiling {
		cooldown = ThermalRaiseCooldownSec
	}
	if t.haveCeilingChange && now-t.lastCeilingChange < cooldown {
		return
	}
	if ceiling > t.ceiling {
		t.ceiling = ceiling
		if t.skip < ceiling {
			t.skip = ceiling
		}
		logrus.Warnf("thermal: ceiling raised to %d, skip=%d", t.ceiling, t.skip)
	} else {
		t.ceiling = ceiling
		if t.skip > ceiling {
			t.skip = ceiling
		}
		logrus.Infof("thermal: ceiling lowered to %d, skip=%d", t.ceiling, t.skip)
	}
	t.lastCeilingChange = now
	t.haveCeilingChange = true
	t.goodStreak = 0
}
