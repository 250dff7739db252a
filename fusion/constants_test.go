package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConstants(t *testing.T) {
	assert.NoError(t, ValidateConstants())
}

func TestConstants_DerivedRelationships(t *testing.T) {
	assert.Equal(t, 512, VoxelsPerBlock)
	// The slow-start budget sits a quarter of the way up the range.
	assert.Equal(t, 100, NewMeshBudgetController().MaxBlocks())
	// The thermal ceiling tiers mirror the host enum.
	assert.Equal(t, []int{1, 2, 4, 12}, []int{
		thermalCeilingForState(0),
		thermalCeilingForState(1),
		thermalCeilingForState(2),
		thermalCeilingForState(3),
	})
}
