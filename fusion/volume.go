package fusion

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryPressureLevel is the host-supplied pressure tier.
type MemoryPressureLevel int

const (
	MemoryPressureWarning MemoryPressureLevel = iota
	MemoryPressureCritical
	MemoryPressureTerminal
)

// IntegrationResult reports the outcome of one Integrate call. A skipped
// frame carries its reason; a late frame (FrameTimeout) still carries the
// stats of the work that was committed before the deadline passed.
type IntegrationResult struct {
	Integrated bool
	Reason     SkipReason
	Stats      IntegrationStats

	// PauseRequested is raised after MaxConsecutiveTeleports pose jumps;
	// the host should pause scanning until tracking settles.
	PauseRequested bool
	// RejectionStreak counts consecutive non-integrated frames. The host
	// is warned through the log at RejectionWarnStreak and
	// RejectionFailStreak.
	RejectionStreak int
	// IsKeyframe marks frames tagged significant in the integration log.
	IsKeyframe bool
	KeyframeID string
}

// Volume is the session's single-writer owner of the voxel field. Exactly
// one call is in flight at a time: Integrate and ExtractMesh are mutually
// exclusive writers, and host events (thermal, memory pressure, reset)
// enter through the same lock. Returned MeshOutputs are immutable
// snapshots and may be read concurrently.
type Volume struct {
	mu sync.Mutex

	cfg     VolumeConfig
	pool    *BlockPool
	table   *BlockHashTable
	backend IntegrationBackend
	thermal *ThermalController
	mesher  *MarchingCubes
	metrics *SessionMetrics
	log     *IntegrationLog
	poses   *PoseHistory
	picker  keyframePicker

	sessionID string

	frameCount            uint64
	havePose              bool
	lastCameraPose        mgl32.Mat4
	lastTimestamp         float64
	consecutiveRejections int
	consecutiveTeleports  int
}

// NewVolume constructs a session over the given backend. The canonical
// constant set is cross-validated first; an inconsistent build fails here
// rather than mid-session.
func NewVolume(cfg VolumeConfig, backend IntegrationBackend) (*Volume, error) {
	if err := ValidateConstants(); err != nil {
		return nil, fmt.Errorf("constant validation: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("volume config: %w", err)
	}
	pool := NewBlockPool(cfg.PoolCapacity)
	table := NewBlockHashTable(pool, cfg.HashCapacity)
	mesher := NewMarchingCubes(table, pool)
	mesher.SetMaxTriangles(cfg.MaxTrianglesPerCycle)
	v := &Volume{
		cfg:            cfg,
		pool:           pool,
		table:          table,
		backend:        backend,
		thermal:        NewThermalController(),
		mesher:         mesher,
		metrics:        NewSessionMetrics(),
		log:            NewIntegrationLog(IntegrationLogCapacity),
		poses:          NewPoseHistory(PoseHistoryCapacity),
		sessionID:      uuid.NewString(),
		lastCameraPose: mgl32.Ident4(),
	}
	logrus.Infof("volume session %s: backend=%s pool=%d blocks", v.sessionID, backend.Name(), cfg.PoolCapacity)
	return v, nil
}

// SessionID identifies this in-memory session.
func (v *Volume) SessionID() string { return v.sessionID }

// Metrics exposes the session counters.
func (v *Volume) Metrics() *SessionMetrics { return v.metrics }

// BlockCount reports the number of live blocks.
func (v *Volume) BlockCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.table.Count()
}

// Log exposes the integration record ring buffer.
func (v *Volume) Log() *IntegrationLog { return v.log }

// Thermal exposes the AIMD skip controller.
func (v *Volume) Thermal() *ThermalController { return v.thermal }

// Mesher exposes the incremental extractor.
func (v *Volume) Mesher() *MarchingCubes { return v.mesher }

// Integrate fuses one depth frame into the voxel field, passing it through
// the ordered gate chain. Frames are processed in submission order; the
// frame counter advances for every submission so the thermal skip cadence
// and keyframe interval see the true frame stream.
func (v *Volume) Integrate(input IntegrationInput, depth DepthDataProvider) IntegrationResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	started := time.Now()
	v.metrics.FramesSubmitted++
	frame := v.frameCount
	v.frameCount++

	// Gate 1: tracking state.
	if input.Tracking != TrackingNormal {
		return v.skip(SkipTrackingLost)
	}

	// Gates 2-4 compare against the last accepted pose.
	if v.havePose {
		translationDelta := poseTranslation(input.Pose).Sub(poseTranslation(v.lastCameraPose)).Len()
		rotationDelta := rotationAngleBetween(input.Pose, v.lastCameraPose)
		dt := float32(input.Timestamp - v.lastTimestamp)
		if dt <= 0 {
			dt = 1 / AssumedFrameRate
		}

		// Gate 2: pose teleport.
		if translationDelta > MaxPoseDeltaPerFrame {
			return v.teleportSkip(input)
		}
		// Gate 3: rotation speed.
		if rotationDelta/dt > MaxAngularVelocity {
			return v.teleportSkip(input)
		}
		// Gate 4: pose jitter. A camera that is essentially still
		// re-observes the same surface; suppress integration.
		if translationDelta < MinPoseTranslationDelta && rotationDelta < MinPoseRotationDelta {
			return v.skip(SkipPoseJitter)
		}
	}
	v.consecutiveTeleports = 0

	// Gate 5: thermal AIMD skip.
	if !v.thermal.ShouldIntegrate(frame) {
		return v.skip(SkipThermalThrottle)
	}

	// Gate 6: block collection over accepted pixels.
	active, allocated, accepted, total := v.collectBlocks(input, depth)
	v.table.RehashIfNeeded()

	// Gate 7: valid-pixel ratio.
	if total == 0 || float32(accepted)/float32(total) < MinValidPixelRatio {
		return v.skip(SkipLowValidPixels)
	}

	// Gate 8: capacity cap with LRU eviction.
	v.evictToCapacity(active)

	// Gate 9: dispatch to the backend.
	stats, err := v.backend.ProcessFrame(input, depth, poolAccessor{pool: v.pool}, active)
	if err != nil {
		logrus.Warnf("[frame %06d] backend %s failed: %v", frame, v.backend.Name(), err)
		return v.skip(SkipFrameTimeout)
	}
	stats.BlocksAllocated = allocated
	v.metrics.BlocksAllocated += allocated
	v.metrics.VoxelsUpdated += stats.VoxelsUpdated
	v.metrics.IntegrationTimeMsSum += stats.TotalTimeMs

	// Gate 10: frame wall-time budget. Work already applied stays
	// committed; the frame is merely reported late.
	elapsedMs := float64(time.Since(started).Microseconds()) / 1000.0
	timedOut := elapsedMs > IntegrationTimeoutMs

	// Step 11: AIMD feedback. Stats are fed even for late frames.
	v.thermal.OnFrameStats(stats.GPUTimeMs)

	// Step 12: record and advance.
	isKeyframe, keyframeID := v.picker.consider(frame, input.Pose)
	blockIDs := make([]BlockIndex, len(active))
	for i, ab := range active {
		blockIDs[i] = ab.Index
	}
	v.log.Push(IntegrationRecord{
		Timestamp:  input.Timestamp,
		Pose:       input.Pose,
		Intrinsics: input.Intrinsics,
		BlockIDs:   blockIDs,
		IsKeyframe: isKeyframe,
		KeyframeID: keyframeID,
	})
	v.lastCameraPose = input.Pose
	v.havePose = true
	v.lastTimestamp = input.Timestamp
	v.poses.Push(input.Timestamp, input.Pose)

	// Step 13: idle anticipatory pre-allocation.
	if v.poses.Tier() == MotionIdle {
		v.anticipatoryAllocate(input.Timestamp)
	}

	if timedOut {
		logrus.Debugf("[frame %06d] integration overran budget: %.2fms", frame, elapsedMs)
		r := v.skip(SkipFrameTimeout)
		r.Stats = stats
		r.IsKeyframe = isKeyframe
		r.KeyframeID = keyframeID
		return r
	}

	v.consecutiveRejections = 0
	v.metrics.FramesIntegrated++
	return IntegrationResult{
		Integrated: true,
		Stats:      stats,
		IsKeyframe: isKeyframe,
		KeyframeID: keyframeID,
	}
}

// teleportSkip handles gates 2 and 3: consecutive implausible pose jumps
// raise a pause signal and re-anchor on the new pose so scanning can
// resume once the tracker settles.
func (v *Volume) teleportSkip(input IntegrationInput) IntegrationResult {
	v.consecutiveTeleports++
	pause := v.consecutiveTeleports >= MaxConsecutiveTeleports
	if pause {
		logrus.Warnf("pose teleported %d frames in a row, requesting pause", v.consecutiveTeleports)
		v.lastCameraPose = input.Pose
		v.lastTimestamp = input.Timestamp
		v.consecutiveTeleports = 0
	}
	r := v.skip(SkipPoseTeleport)
	r.PauseRequested = pause
	return r
}

// skip records a non-integrated frame and advances the rejection streak.
func (v *Volume) skip(reason SkipReason) IntegrationResult {
	v.metrics.FramesSkipped[reason]++
	v.consecutiveRejections++
	switch v.consecutiveRejections {
	case RejectionWarnStreak:
		logrus.Warnf("%d consecutive frames rejected (last: %s)", v.consecutiveRejections, reason)
	case RejectionFailStreak:
		logrus.Errorf("%d consecutive frames rejected (last: %s), session is starved", v.consecutiveRejections, reason)
	}
	return IntegrationResult{Reason: reason, RejectionStreak: v.consecutiveRejections}
}

// collectBlocks back-projects every accepted pixel into the world and
// allocates the block containing it at the pixel's adaptive resolution.
// Returns the active set in first-seen order (deterministic across runs),
// the allocation count, and the accepted/total pixel tallies.
func (v *Volume) collectBlocks(input IntegrationInput, depth DepthDataProvider) ([]ActiveBlock, int, int, int) {
	width, height := depth.Width(), depth.Height()
	seen := make(map[BlockIndex]bool)
	var active []ActiveBlock
	allocated := 0
	accepted := 0
	total := 0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			total++
			z := depth.DepthAt(x, y)
			if !acceptDepth(z) {
				continue
			}
			if v.cfg.SkipLowConfidence && depth.ConfidenceAt(x, y) == 0 {
				continue
			}
			accepted++

			camP := input.Intrinsics.backproject(float32(x), float32(y), z)
			world := input.Pose.Mul4x1(camP.Vec4(1)).Vec3()
			voxelSize := voxelSizeForDepth(z)
			key := blockIndexForPosition(world, voxelSize)
			if seen[key] {
				continue
			}
			seen[key] = true

			poolIndex, wasAllocated, err := v.insertWithRecovery(key, voxelSize)
			if err != nil {
				logrus.Warnf("block %+v not allocated: %v", key, err)
				continue
			}
			if wasAllocated {
				allocated++
				// Stamp the observation time immediately so a same-frame
				// LRU pass cannot reap the newborn block.
				v.pool.Block(poolIndex).LastObservedTimestamp = input.Timestamp
			}
			active = append(active, ActiveBlock{Index: key, PoolIndex: poolIndex})
		}
	}
	return active, allocated, accepted, total
}

// insertWithRecovery wraps InsertOrGet with the structural-error remedies:
// probe-bound exhaustion forces a rehash, pool exhaustion evicts the
// least-recently-observed block. Each remedy is tried once.
func (v *Volume) insertWithRecovery(key BlockIndex, voxelSize float32) (int32, bool, error) {
	poolIndex, wasAllocated, err := v.table.InsertOrGet(key, voxelSize)
	switch err {
	case nil:
		return poolIndex, wasAllocated, nil
	case ErrProbeBound:
		v.table.ForceRehash()
	case ErrPoolExhausted:
		v.evictLRU(1, nil)
	}
	return v.table.InsertOrGet(key, voxelSize)
}

// evictToCapacity LRU-evicts down to the pool capacity, never touching
// blocks in the current active set.
func (v *Volume) evictToCapacity(active []ActiveBlock) {
	excess := v.table.Count() - v.cfg.PoolCapacity
	if excess <= 0 {
		return
	}
	protect := make(map[BlockIndex]bool, len(active))
	for _, ab := range active {
		protect[ab.Index] = true
	}
	v.evictLRU(excess, protect)
}

// evictLRU removes the n least-recently-observed blocks. Keys are
// collected from the stable list first so removal cannot invalidate the
// scan.
func (v *Volume) evictLRU(n int, protect map[BlockIndex]bool) {
	type candidate struct {
		key      BlockIndex
		observed float64
		order    int
	}
	var candidates []candidate
	order := 0
	v.table.ForEachBlock(func(key BlockIndex, poolIndex int32) {
		if !protect[key] {
			candidates = append(candidates, candidate{
				key:      key,
				observed: v.pool.Block(poolIndex).LastObservedTimestamp,
				order:    order,
			})
		}
		order++
	})
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].observed != candidates[j].observed {
			return candidates[i].observed < candidates[j].observed
		}
		return candidates[i].order < candidates[j].order
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	for _, c := range candidates[:n] {
		v.table.Remove(c.key)
		v.metrics.BlocksEvicted++
	}
	if n > 0 {
		logrus.Debugf("evicted %d LRU blocks, %d live", n, v.table.Count())
	}
}

// anticipatoryAllocate extrapolates a future camera position along the
// recent velocity and pre-allocates the block that would contain it, so
// an idle-then-move transition does not stall on allocation.
func (v *Volume) anticipatoryAllocate(now float64) {
	velocity := v.poses.Velocity()
	speed := velocity.Len()
	if speed < 1e-6 {
		return
	}
	future := poseTranslation(v.lastCameraPose).Add(velocity.Mul(LookAheadDistance / speed))
	voxelSize := voxelSizeForDepth(LookAheadDistance)
	key := blockIndexForPosition(future, voxelSize)
	if poolIndex, wasAllocated, err := v.table.InsertOrGet(key, voxelSize); err == nil && wasAllocated {
		v.pool.Block(poolIndex).LastObservedTimestamp = now
		v.metrics.BlocksAllocated++
	}
}

// ExtractMesh runs one incremental extraction cycle. While the camera
// sweeps fast the cycle defers and returns an empty output: the mesh would
// be stale before submission and the time is better spent integrating.
func (v *Volume) ExtractMesh(now float64) MeshOutput {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.poses.Tier() == MotionFast {
		v.metrics.MeshCyclesDeferred++
		return MeshOutput{ExtractionTimestamp: now}
	}

	started := time.Now()
	out := v.mesher.ExtractIncremental(now)
	elapsedMs := float64(time.Since(started).Microseconds()) / 1000.0
	v.mesher.Budget().Observe(elapsedMs)

	v.metrics.MeshCycles++
	v.metrics.TrianglesEmitted += out.TriangleCount()
	v.metrics.ExtractionTimeMsSum += elapsedMs
	return out
}

// HandleThermalState applies a host OS thermal state change (0 nominal …
// 3 critical). Never fails.
func (v *Volume) HandleThermalState(state int, now float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.thermal.SetThermalState(state, now)
}

// HandleMemoryPressure sheds blocks in tiers. Warning drops stale blocks;
// Critical and Terminal drop everything outside a shrinking radius around
// the camera. Never fails — at worst the volume is left empty.
func (v *Volume) HandleMemoryPressure(level MemoryPressureLevel, now float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	camera := poseTranslation(v.lastCameraPose)
	var doomed []BlockIndex
	v.table.ForEachBlock(func(key BlockIndex, poolIndex int32) {
		block := v.pool.Block(poolIndex)
		switch level {
		case MemoryPressureWarning:
			if now-block.LastObservedTimestamp > StaleEvictionAgeSec {
				doomed = append(doomed, key)
			}
		case MemoryPressureCritical:
			if key.center(block.VoxelSize).Sub(camera).Len() > CriticalEvictionRadius {
				doomed = append(doomed, key)
			}
		case MemoryPressureTerminal:
			if key.center(block.VoxelSize).Sub(camera).Len() > TerminalEvictionRadius {
				doomed = append(doomed, key)
			}
		}
	})
	for _, key := range doomed {
		v.table.Remove(key)
	}
	v.metrics.BlocksEvicted += len(doomed)
	logrus.Infof("memory pressure %d: evicted %d blocks, %d live", level, len(doomed), v.table.Count())
}

// Reset discards the session state: all blocks, controllers, metrics, and
// records. The pool storage itself is retained so a bound base address
// stays valid. Never fails.
func (v *Volume) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, key := range v.table.StableKeys() {
		v.table.Remove(key)
	}
	v.thermal = NewThermalController()
	v.mesher = NewMarchingCubes(v.table, v.pool)
	v.mesher.SetMaxTriangles(v.cfg.MaxTrianglesPerCycle)
	v.metrics = NewSessionMetrics()
	v.log.Reset()
	v.poses.Reset()
	v.picker.reset()
	v.frameCount = 0
	v.havePose = false
	v.lastCameraPose = mgl32.Ident4()
	v.lastTimestamp = 0
	v.consecutiveRejections = 0
	v.consecutiveTeleports = 0
	v.sessionID = uuid.NewString()
	logrus.Infof("volume reset, new session %s", v.sessionID)
}

// QueryVoxel reads the voxel containing a world position. The resolution
// tier is estimated from the point's distance to the last camera position
// (its |z| before any pose is known); a miss on that lattice returns
// false.
func (v *Volume) QueryVoxel(worldPos mgl32.Vec3) (Voxel, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var estimated float32
	if v.havePose {
		estimated = worldPos.Sub(poseTranslation(v.lastCameraPose)).Len()
	} else {
		estimated = math32.Abs(worldPos.Z())
	}
	voxelSize := voxelSizeForDepth(estimated)
	key := blockIndexForPosition(worldPos, voxelSize)
	poolIndex, ok := v.table.Lookup(key)
	if !ok {
		return Voxel{}, false
	}
	block := v.pool.Block(poolIndex)
	vx := clampIndex(int(math32.Floor(worldPos.X()/voxelSize)) - int(key.X)*BlockEdge)
	vy := clampIndex(int(math32.Floor(worldPos.Y()/voxelSize)) - int(key.Y)*BlockEdge)
	vz := clampIndex(int(math32.Floor(worldPos.Z()/voxelSize)) - int(key.Z)*BlockEdge)
	return block.VoxelAt(vx, vy, vz), true
}
