// Package fusion implements a real-time truncated signed distance field
// (TSDF) reconstruction engine for streaming depth-plus-confidence
// sensors.
//
// Depth frames are fused into a sparse voxel field (spatial hash over a
// pre-allocated block pool) through a gated, thermally throttled
// integration pipeline, and an incremental marching cubes pass extracts
// the triangle mesh from dirty blocks under an AIMD block budget. The
// Volume type is the single-writer session owner; see IntegrationBackend
// for the pluggable per-voxel update (CPU reference, GPU, mock).
package fusion
