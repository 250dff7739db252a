package fusion

import "github.com/sirupsen/logrus"

// MeshBudgetController adapts how many blocks one extraction cycle may
// process, AIMD-style: an overrun halves the budget, a sustained run of
// fast cycles ramps it back additively. The forgiveness window keeps the
// first few fast cycles after an overrun from immediately re-ramping, which
// would oscillate on workloads that alternate heavy and light cycles.
type MeshBudgetController struct {
	maxBlocks         int
	goodStreak        int
	forgivenessWindow int
}

// NewMeshBudgetController starts the budget at the slow-start position
// within [MinBlocksPerExtraction, MaxBlocksPerExtraction].
func NewMeshBudgetController() *MeshBudgetController {
	start := MinBlocksPerExtraction +
		int(BlockBudgetSlowStart*float64(MaxBlocksPerExtraction-MinBlocksPerExtraction))
	return &MeshBudgetController{maxBlocks: start}
}

// MaxBlocks returns the current per-cycle block budget.
func (c *MeshBudgetController) MaxBlocks() int { return c.maxBlocks }

// Observe feeds one extraction cycle's wall time into the controller.
func (c *MeshBudgetController) Observe(elapsedMs float64) {
	switch {
	case elapsedMs > MeshBudgetOverrunMs:
		c.maxBlocks /= 2
		if c.maxBlocks < MinBlocksPerExtraction {
			c.maxBlocks = MinBlocksPerExtraction
		}
		c.goodStreak = 0
		c.forgivenessWindow = ForgivenessCycles
		logrus.Debugf("mesh budget: overrun %.2fms, halved to %d blocks", elapsedMs, c.maxBlocks)
	case elapsedMs < MeshBudgetGoodMs:
		if c.forgivenessWindow > 0 {
			c.forgivenessWindow--
			if c.forgivenessWindow > 0 {
				return
			}
			// The cycle that drains the window counts toward the streak.
		}
		c.goodStreak++
		if c.goodStreak >= CongestionGoodStreak {
			c.maxBlocks += BlockBudgetRamp
			if c.maxBlocks > MaxBlocksPerExtraction {
				c.maxBlocks = MaxBlocksPerExtraction
			}
			c.goodStreak = 0
			logrus.Debugf("mesh budget: ramped to %d blocks", c.maxBlocks)
		}
	default:
		c.goodStreak = 0
	}
}
