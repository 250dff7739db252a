package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeshBudget_SlowStart(t *testing.T) {
	c := NewMeshBudgetController()
	// 50 + 0.25·(250−50)
	assert.Equal(t, 100, c.MaxBlocks())
}

func TestMeshBudget_Scenario_S5(t *testing.T) {
	// GIVEN a controller at 100 blocks
	c := NewMeshBudgetController()

	// WHEN a cycle overruns
	c.Observe(6.0)
	// THEN the budget halves and the forgiveness window opens
	assert.Equal(t, 50, c.MaxBlocks())
	assert.Equal(t, ForgivenessCycles, c.forgivenessWindow)

	// Four fast cycles only drain forgiveness.
	for i := 0; i < 4; i++ {
		c.Observe(2.0)
	}
	assert.Equal(t, 1, c.forgivenessWindow)
	assert.Equal(t, 50, c.MaxBlocks())
	assert.Equal(t, 0, c.goodStreak)

	// The fifth fast cycle drains the window and starts the streak.
	c.Observe(2.0)
	assert.Equal(t, 1, c.goodStreak)

	// Two more reach the streak and ramp additively.
	c.Observe(2.0)
	c.Observe(2.0)
	assert.Equal(t, 65, c.MaxBlocks())
}

func TestMeshBudget_MiddleBandResetsStreak(t *testing.T) {
	c := NewMeshBudgetController()
	c.Observe(2.0)
	c.Observe(2.0)
	assert.Equal(t, 2, c.goodStreak)
	c.Observe(4.0)
	assert.Equal(t, 0, c.goodStreak)
	assert.Equal(t, 100, c.MaxBlocks())
}

func TestMeshBudget_Bounds(t *testing.T) {
	c := NewMeshBudgetController()
	for i := 0; i < 10; i++ {
		c.Observe(8.0)
	}
	assert.Equal(t, MinBlocksPerExtraction, c.MaxBlocks())

	for i := 0; i < 200; i++ {
		c.Observe(1.0)
	}
	assert.Equal(t, MaxBlocksPerExtraction, c.MaxBlocks())
}
