package fusion

import "fmt"

// SessionMetrics aggregates per-session statistics for final reporting.
// Useful for evaluating throttling behavior and storage growth over time.
type SessionMetrics struct {
	FramesSubmitted  int
	FramesIntegrated int
	FramesSkipped    map[SkipReason]int

	BlocksAllocated int
	BlocksEvicted   int
	VoxelsUpdated   int

	MeshCycles       int
	MeshCyclesDeferred int
	TrianglesEmitted int

	IntegrationTimeMsSum float64
	ExtractionTimeMsSum  float64
}

// NewSessionMetrics returns zeroed metrics.
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{FramesSkipped: make(map[SkipReason]int)}
}

// Print displays aggregated metrics at the end of a session.
func (m *SessionMetrics) Print() {
	fmt.Println("=== Session Metrics ===")
	fmt.Printf("Frames submitted     : %d\n", m.FramesSubmitted)
	fmt.Printf("Frames integrated    : %d\n", m.FramesIntegrated)
	for reason := SkipTrackingLost; reason <= SkipMemoryPressure; reason++ {
		if n := m.FramesSkipped[reason]; n > 0 {
			fmt.Printf("Skipped (%s): %d\n", reason, n)
		}
	}
	fmt.Printf("Blocks allocated     : %d\n", m.BlocksAllocated)
	fmt.Printf("Blocks evicted       : %d\n", m.BlocksEvicted)
	fmt.Printf("Voxels updated       : %d\n", m.VoxelsUpdated)
	fmt.Printf("Mesh cycles          : %d (%d deferred)\n", m.MeshCycles, m.MeshCyclesDeferred)
	fmt.Printf("Triangles emitted    : %d\n", m.TrianglesEmitted)
	if m.FramesIntegrated > 0 {
		fmt.Printf("Avg integration time : %.3f ms\n", m.IntegrationTimeMsSum/float64(m.FramesIntegrated))
	}
	if m.MeshCycles > 0 {
		fmt.Printf("Avg extraction time  : %.3f ms\n", m.ExtractionTimeMsSum/float64(m.MeshCycles))
	}
}
