package fusion

import (
	"fmt"
	"unsafe"
)

// BlockPool owns the storage for every voxel block in the session. The
// backing array is allocated once and never moves, so backends may bind
// BaseAddress/ByteCount for zero-copy GPU access for the lifetime of the
// pool. Allocation and deallocation are O(1) through a free-list stack.
//
// The pool exclusively owns the storage; the hash table holds borrowed
// indices into it and the mesh extractor reads blocks through the table.
type BlockPool struct {
	blocks   []VoxelBlock
	freeList []int32
}

// NewBlockPool pre-allocates capacity blocks. The free list starts holding
// every index so the first allocations pop 0, 1, 2, … in order.
func NewBlockPool(capacity int) *BlockPool {
	if capacity <= 0 {
		panic(fmt.Sprintf("block pool capacity must be positive, got %d", capacity))
	}
	p := &BlockPool{
		blocks:   make([]VoxelBlock, capacity),
		freeList: make([]int32, capacity),
	}
	// Stack layout: index 0 on top so allocation order is ascending.
	for i := range p.freeList {
		p.freeList[i] = int32(capacity - 1 - i)
	}
	return p
}

// Allocate pops a free slot and resets it to 512 empty voxels with the
// requested voxel size. Returns ErrPoolExhausted when no slot remains.
func (p *BlockPool) Allocate(voxelSize float32) (int32, error) {
	if len(p.freeList) == 0 {
		return EmptyPoolIndex, ErrPoolExhausted
	}
	idx := p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]
	p.blocks[idx].reset(voxelSize)
	return idx, nil
}

// Deallocate resets slot i to the empty sentinel and pushes it back onto
// the free list. An out-of-range index is an invariant violation.
func (p *BlockPool) Deallocate(i int32) {
	p.check(i)
	p.blocks[i].reset(0)
	p.freeList = append(p.freeList, i)
}

// Block returns the block at pool index i for in-place mutation.
func (p *BlockPool) Block(i int32) *VoxelBlock {
	p.check(i)
	return &p.blocks[i]
}

func (p *BlockPool) check(i int32) {
	if i < 0 || int(i) >= len(p.blocks) {
		panic(fmt.Sprintf("pool index %d out of range [0, %d)", i, len(p.blocks)))
	}
}

// AllocatedCount reports how many slots are currently live.
func (p *BlockPool) AllocatedCount() int {
	return len(p.blocks) - len(p.freeList)
}

// Capacity reports the fixed pool size.
func (p *BlockPool) Capacity() int {
	return len(p.blocks)
}

// BaseAddress exposes the stable start of the block storage for GPU
// binding. The address is valid for the lifetime of the pool.
func (p *BlockPool) BaseAddress() unsafe.Pointer {
	return unsafe.Pointer(&p.blocks[0])
}

// ByteCount is the size of the bindable block storage range.
func (p *BlockPool) ByteCount() int {
	return len(p.blocks) * int(unsafe.Sizeof(VoxelBlock{}))
}
