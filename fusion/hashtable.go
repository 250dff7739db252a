package fusion

import "fmt"

// hashEntry pairs a block index with its borrowed pool slot. poolIndex is
// EmptyPoolIndex (-1) for unoccupied slots, which keeps empty-slot checks
// branch-free for scans.
type hashEntry struct {
	key       BlockIndex
	poolIndex int32
}

// BlockHashTable maps block indices to pool slots with open addressing and
// linear probing. Deletion uses backward shifting instead of tombstones so
// probe chains stay intact. All iteration (meshing, eviction) goes through
// an insertion-ordered stable key list, never bucket order, so scans are
// reproducible across runs and platforms.
//
// Rehashing remaps keys only: the pool is never re-allocated, so the stored
// pool indices stay valid across growth.
type BlockHashTable struct {
	entries []hashEntry
	keys    []BlockIndex
	count   int
	pool    *BlockPool
}

// NewBlockHashTable creates a table with the given initial slot count
// (rounded up to a power of two) backed by the given pool.
func NewBlockHashTable(pool *BlockPool, capacity int) *BlockHashTable {
	cap2 := 1
	for cap2 < capacity {
		cap2 <<= 1
	}
	t := &BlockHashTable{pool: pool}
	t.entries = newEntrySlots(cap2)
	return t
}

func newEntrySlots(capacity int) []hashEntry {
	entries := make([]hashEntry, capacity)
	for i := range entries {
		entries[i].poolIndex = EmptyPoolIndex
	}
	return entries
}

// InsertOrGet returns the pool index for key, allocating a block with the
// given voxel size when the key is new. The second return reports whether
// an allocation happened. Probe-bound exhaustion returns ErrProbeBound and
// the caller may force a rehash; pool exhaustion returns ErrPoolExhausted.
func (t *BlockHashTable) InsertOrGet(key BlockIndex, voxelSize float32) (int32, bool, error) {
	capacity := len(t.entries)
	start := key.hashSlot(capacity)
	for step := 0; step < HashMaxProbe; step++ {
		slot := (start + step) % capacity
		e := &t.entries[slot]
		if e.poolIndex == EmptyPoolIndex {
			poolIndex, err := t.pool.Allocate(voxelSize)
			if err != nil {
				return EmptyPoolIndex, false, err
			}
			e.key = key
			e.poolIndex = poolIndex
			t.keys = append(t.keys, key)
			t.count++
			return poolIndex, true, nil
		}
		if e.key == key {
			return e.poolIndex, false, nil
		}
	}
	return EmptyPoolIndex, false, ErrProbeBound
}

// Lookup returns the pool index for key. Probe-bound exhaustion is treated
// as a miss.
func (t *BlockHashTable) Lookup(key BlockIndex) (int32, bool) {
	capacity := len(t.entries)
	start := key.hashSlot(capacity)
	for step := 0; step < HashMaxProbe; step++ {
		slot := (start + step) % capacity
		e := &t.entries[slot]
		if e.poolIndex == EmptyPoolIndex {
			return EmptyPoolIndex, false
		}
		if e.key == key {
			return e.poolIndex, true
		}
	}
	return EmptyPoolIndex, false
}

// Remove deletes key, frees its pool slot, and backward-shifts the probe
// chain through the vacated slot so later lookups cannot false-miss.
// Removing an absent key is a silent no-op.
func (t *BlockHashTable) Remove(key BlockIndex) {
	capacity := len(t.entries)
	start := key.hashSlot(capacity)
	slot := -1
	for step := 0; step < HashMaxProbe; step++ {
		s := (start + step) % capacity
		e := &t.entries[s]
		if e.poolIndex == EmptyPoolIndex {
			return
		}
		if e.key == key {
			slot = s
			break
		}
	}
	if slot < 0 {
		return
	}

	t.pool.Deallocate(t.entries[slot].poolIndex)
	t.entries[slot].poolIndex = EmptyPoolIndex
	t.count--
	t.dropKey(key)

	// Backward shift: walk forward from the vacated slot; any entry whose
	// home slot is still reachable through the vacancy moves into it.
	vacated := slot
	for step := 1; step < capacity; step++ {
		j := (slot + step) % capacity
		e := &t.entries[j]
		if e.poolIndex == EmptyPoolIndex {
			break
		}
		home := e.key.hashSlot(capacity)
		if shiftFits(home, vacated, j) {
			t.entries[vacated] = *e
			e.poolIndex = EmptyPoolIndex
			vacated = j
		}
	}
}

// shiftFits reports whether an entry at slot j with the given home slot may
// move into the vacated slot without breaking its probe chain, accounting
// for wraparound.
func shiftFits(home, vacated, j int) bool {
	if j > vacated {
		return home <= vacated || home > j
	}
	return home <= vacated && home > j
}

func (t *BlockHashTable) dropKey(key BlockIndex) {
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("stable key list missing live key %+v", key))
}

// RehashIfNeeded doubles the slot array once the load factor reaches
// HashLoadFactorMax, re-inserting the live keys in stable list order. Pool
// slots are untouched, so borrowed indices survive the rehash.
func (t *BlockHashTable) RehashIfNeeded() {
	if t.LoadFactor() < HashLoadFactorMax {
		return
	}
	t.ForceRehash()
}

// ForceRehash doubles the slot array regardless of load factor. Callers
// use it to break up a probe-bound cluster reported by InsertOrGet.
func (t *BlockHashTable) ForceRehash() {
	capacity := len(t.entries) * 2
	for {
		entries, ok := t.rebuildInto(capacity)
		if ok {
			t.entries = entries
			return
		}
		// A pathological cluster exceeded the probe bound at this size.
		capacity *= 2
	}
}

func (t *BlockHashTable) rebuildInto(capacity int) ([]hashEntry, bool) {
	entries := newEntrySlots(capacity)
	for _, key := range t.keys {
		poolIndex, ok := t.Lookup(key)
		if !ok {
			panic(fmt.Sprintf("live key %+v missing during rehash", key))
		}
		if !insertEntry(entries, key, poolIndex) {
			return nil, false
		}
	}
	return entries, true
}

func insertEntry(entries []hashEntry, key BlockIndex, poolIndex int32) bool {
	capacity := len(entries)
	start := key.hashSlot(capacity)
	for step := 0; step < HashMaxProbe; step++ {
		slot := (start + step) % capacity
		if entries[slot].poolIndex == EmptyPoolIndex {
			entries[slot] = hashEntry{key: key, poolIndex: poolIndex}
			return true
		}
		if entries[slot].key == key {
			panic(fmt.Sprintf("duplicate insertion of key %+v", key))
		}
	}
	return false
}

// ForEachBlock visits every live (key, poolIndex) pair in insertion order.
func (t *BlockHashTable) ForEachBlock(visit func(key BlockIndex, poolIndex int32)) {
	for _, key := range t.keys {
		if poolIndex, ok := t.Lookup(key); ok {
			visit(key, poolIndex)
		}
	}
}

// StableKeys returns a copy of the insertion-ordered key list. Eviction
// passes iterate the copy so removals cannot invalidate the scan.
func (t *BlockHashTable) StableKeys() []BlockIndex {
	keys := make([]BlockIndex, len(t.keys))
	copy(keys, t.keys)
	return keys
}

// Count reports the number of live entries.
func (t *BlockHashTable) Count() int {
	return t.count
}

// Capacity reports the current slot array size.
func (t *BlockHashTable) Capacity() int {
	return len(t.entries)
}

// LoadFactor is count over capacity.
func (t *BlockHashTable) LoadFactor() float64 {
	return float64(t.count) / float64(len(t.entries))
}
