package allocator

import "sort"

// stats accumulates the running counters AllocatorStats is built from,
// limited to what a TLSF heap can maintain in O(1): nothing here
// requires walking a free list on the hot path.
type stats struct {
	allocCount     uint64
	freeCount      uint64
	bytesAllocated uint64 // block bytes handed out, header included
	bytesFreed     uint64
	poolsAcquired  int
}

func (s *stats) onAlloc(blockSize uint32) {
	s.allocCount++
	s.bytesAllocated += uint64(blockSize)
}

func (s *stats) onFree(blockSize uint32) {
	s.freeCount++
	s.bytesFreed += uint64(blockSize)
}

// AllocatorStats is a point-in-time snapshot of an Allocator's
// activity and current free-space layout: operation counts, byte
// totals, and a fragmentation figure.
type AllocatorStats struct {
	AllocCount         uint64
	FreeCount          uint64
	ActiveAllocations  uint64
	BytesAllocated     uint64
	BytesFreed         uint64
	BytesInUse         uint64
	PoolCount          int
	FreeBlockCount     int
	FreeBytes          uint64
	LargestFreeBlock   uint32
	FragmentationRatio float64
}

// Stats walks every free list once to report the current free-space
// layout alongside the allocator's running counters. This is O(free
// block count), never called from Allocate/Deallocate's hot path.
func (a *Allocator) Stats() AllocatorStats {
	st := AllocatorStats{
		AllocCount:        a.stats.allocCount,
		FreeCount:         a.stats.freeCount,
		ActiveAllocations: a.stats.allocCount - a.stats.freeCount,
		BytesAllocated:    a.stats.bytesAllocated,
		BytesFreed:        a.stats.bytesFreed,
		BytesInUse:        a.stats.bytesAllocated - a.stats.bytesFreed,
		PoolCount:         len(a.pools),
	}

	for fl := 0; fl < a.cfg.FLCount; fl++ {
		for sl := 0; sl < a.cfg.SLCount; sl++ {
			for b := a.heads[fl][sl]; b != nil; b = b.freeNext {
				st.FreeBlockCount++
				st.FreeBytes += uint64(b.Size())

				if b.Size() > st.LargestFreeBlock {
					st.LargestFreeBlock = b.Size()
				}
			}
		}
	}

	// Fragmentation: how far the largest single free block falls short
	// of total free space. 0 means all free bytes are in one block
	// (no fragmentation); it approaches 1 as free bytes scatter across
	// many small blocks.
	if st.FreeBytes > 0 {
		st.FragmentationRatio = 1 - float64(st.LargestFreeBlock)/float64(st.FreeBytes)
	}

	return st
}

// WalkBlocks invokes fn once per block, free or allocated, across every
// pool in ascending physical-offset order. This is the diagnostics
// hook that backs snapshot reporting; it is never called from
// Allocate/Deallocate.
func (a *Allocator) WalkBlocks(fn func(poolIndex int, offset, size uint32, free bool)) {
	for pi, p := range a.pools {
		offsets := make([]uint32, 0, len(p.blocks))
		for off := range p.blocks {
			offsets = append(offsets, off)
		}

		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

		for _, off := range offsets {
			b := p.blocks[off]
			fn(pi, off, b.Size(), b.IsFree())
		}
	}
}
