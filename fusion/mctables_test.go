package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMCTables_EmptyAndFullCubes_B4(t *testing.T) {
	// Cubes entirely inside or outside the surface emit nothing.
	assert.Equal(t, uint16(0), edgeTable[0])
	assert.Equal(t, uint16(0), edgeTable[255])
	assert.Empty(t, triTable[0])
	assert.Empty(t, triTable[255])
}

func TestMCTables_SingleCornerOutside_S4(t *testing.T) {
	// Seven corners inside, corner 0 outside: edges 0, 3, 8 are crossed.
	assert.Equal(t, uint16(0x109), edgeTable[254])
	assert.Equal(t, []int8{0, 3, 8}, triTable[254])
}

func TestMCTables_ComplementSymmetry(t *testing.T) {
	// Inverting inside/outside crosses the same edges.
	for i := 0; i < 256; i++ {
		assert.Equal(t, edgeTable[i], edgeTable[255-i], "mask %d", i)
	}
}

func TestMCTables_TrianglesUseOnlyCrossedEdges(t *testing.T) {
	for i := 0; i < 256; i++ {
		row := triTable[i]
		assert.Equal(t, 0, len(row)%3, "mask %d row length", i)
		assert.LessOrEqual(t, len(row), 15, "mask %d row length", i)
		for _, e := range row {
			assert.GreaterOrEqual(t, e, int8(0), "mask %d", i)
			assert.Less(t, e, int8(12), "mask %d", i)
			assert.NotZero(t, edgeTable[i]&(1<<uint(e)), "mask %d uses uncrossed edge %d", i, e)
		}
	}
}

func TestMCTables_EdgeCornersConsistent(t *testing.T) {
	// Each edge joins two corners one lattice step apart.
	for e, c := range edgeCorners {
		a := cornerOffsets[c[0]]
		b := cornerOffsets[c[1]]
		dist := 0
		for axis := 0; axis < 3; axis++ {
			d := a[axis] - b[axis]
			dist += d * d
		}
		assert.Equal(t, 1, dist, "edge %d", e)
	}
}
