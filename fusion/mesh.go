package fusion

import "github.com/go-gl/mathgl/mgl32"

// MeshVertex is the 32-byte vertex record handed to the render layer.
// Alpha implements progressive reveal (under-observed geometry fades in);
// Quality is the convergence of the source block in [0, 1].
type MeshVertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Alpha    float32
	Quality  float32
}

// MeshOutput is one extraction's result: an ordered vertex sequence plus
// ordered triangle index triplets. It is produced atomically per call and
// never mutated after return, so render submission may snapshot it freely.
type MeshOutput struct {
	Vertices  []MeshVertex
	Triangles []uint32 // length is a multiple of 3

	ExtractionTimestamp  float64
	DirtyBlocksRemaining int
}

// TriangleCount reports the number of emitted triangles.
func (m *MeshOutput) TriangleCount() int {
	return len(m.Triangles) / 3
}
