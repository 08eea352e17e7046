package allocator

import (
	"testing"
)

func newTestAllocator(t *testing.T, opts ...Option) *Allocator {
	t.Helper()

	a, err := New(NewHeapProvider(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return a
}

func TestAllocateReturnsUsablePayload(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Allocate(1024)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	buf := a.Bytes(p)
	if len(buf) < 1024 {
		t.Fatalf("payload too small: got %d bytes, want >= 1024", len(buf))
	}

	for i := range buf {
		buf[i] = byte(i)
	}

	for i, v := range buf {
		if v != byte(i) {
			t.Fatalf("payload byte %d corrupted: got %d", i, v)
		}
	}

	a.Audit()
}

func TestAllocateRejectsOverflowingSize(t *testing.T) {
	a := newTestAllocator(t)

	if _, err := a.Allocate(^uint32(0)); err == nil {
		t.Fatal("Allocate(MaxUint32) should fail rather than wrap the block size computation")
	}
}

func TestAllocateHugeRequestFailsCleanly(t *testing.T) {
	a := newTestAllocator(t)

	if _, err := a.Allocate(1 << 31); err == nil {
		t.Fatal("a request far beyond any pool's capacity should fail")
	}

	// The failed attempt may have acquired a pool it could not use;
	// whatever state remains must still be coherent and usable.
	a.Audit()

	p, err := a.Allocate(64)
	if err != nil {
		t.Fatalf("small Allocate after huge failure: %v", err)
	}

	if !a.Owns(p) {
		t.Fatal("allocator does not own the pointer it just returned")
	}
}

func TestAllocateZeroIsMinBlock(t *testing.T) {
	a := newTestAllocator(t)

	p, err := a.Allocate(0)
	if err != nil {
		t.Fatalf("Allocate(0): %v", err)
	}

	if !a.Owns(p) {
		t.Fatal("allocator does not own the pointer it just returned")
	}

	if got, want := len(a.Bytes(p)), int(a.cfg.MinBlock-headerSize); got != want {
		t.Fatalf("Allocate(0) payload = %d bytes, want %d (one MinBlock block)", got, want)
	}

	if err := a.Deallocate(p); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestAllocateTenBlocksMatchesWorkedScenario(t *testing.T) {
	// FLCount=8, SLCount=4, MinBlock=32, PoolSize=32768, ten
	// Allocate(1024) calls. With a 16-byte header, each call consumes
	// a 1056-byte block, so all ten fit in one pool.
	a := newTestAllocator(t)

	var ptrs []Ptr

	for i := 0; i < 10; i++ {
		p, err := a.Allocate(1024)
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}

		ptrs = append(ptrs, p)
	}

	stats := a.Stats()
	if stats.AllocCount != 10 {
		t.Fatalf("AllocCount = %d, want 10", stats.AllocCount)
	}

	if stats.PoolCount != 1 {
		t.Fatalf("PoolCount = %d, want 1 (10*1056 bytes fits in one 32KiB pool)", stats.PoolCount)
	}

	a.Audit()

	for _, p := range ptrs {
		if err := a.Deallocate(p); err != nil {
			t.Fatalf("Deallocate: %v", err)
		}
	}

	a.Audit()

	after := a.Stats()
	if after.ActiveAllocations != 0 {
		t.Fatalf("ActiveAllocations = %d after freeing everything, want 0", after.ActiveAllocations)
	}

	if after.FreeBlockCount != 1 {
		t.Fatalf("FreeBlockCount = %d after freeing everything, want 1 (fully coalesced)", after.FreeBlockCount)
	}
}

func TestReverseOrderFreeCoalescesToSingleBlock(t *testing.T) {
	a := newTestAllocator(t)

	var ptrs []Ptr

	for _, n := range []uint32{100, 200, 300, 400} {
		p, err := a.Allocate(n)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", n, err)
		}

		ptrs = append(ptrs, p)
	}

	for i := len(ptrs) - 1; i >= 0; i-- {
		if err := a.Deallocate(ptrs[i]); err != nil {
			t.Fatalf("Deallocate #%d: %v", i, err)
		}
	}

	a.Audit()

	stats := a.Stats()
	if stats.FreeBlockCount != 1 {
		t.Fatalf("FreeBlockCount = %d, want 1 after reverse-order frees", stats.FreeBlockCount)
	}

	if stats.LargestFreeBlock != a.cfg.PoolSize {
		t.Fatalf("LargestFreeBlock = %d, want the full pool size %d", stats.LargestFreeBlock, a.cfg.PoolSize)
	}

	if want := uint32(1) << uint(a.cfg.FLCount-1); a.flBitmap != want {
		t.Fatalf("flBitmap = %#b, want only the top first-level bit (%#b) once the pool is one free block", a.flBitmap, want)
	}
}

func TestCoalesceWithBothNeighbors(t *testing.T) {
	a := newTestAllocator(t)

	p1, _ := a.Allocate(64)
	p2, _ := a.Allocate(64)
	p3, _ := a.Allocate(64)

	if err := a.Deallocate(p1); err != nil {
		t.Fatalf("Deallocate p1: %v", err)
	}

	if err := a.Deallocate(p3); err != nil {
		t.Fatalf("Deallocate p3: %v", err)
	}

	a.Audit()

	if err := a.Deallocate(p2); err != nil {
		t.Fatalf("Deallocate p2: %v", err)
	}

	a.Audit()

	stats := a.Stats()
	if stats.FreeBlockCount != 1 {
		t.Fatalf("FreeBlockCount = %d, want 1 after freeing a block between two already-free neighbors", stats.FreeBlockCount)
	}
}

func TestAllocateSkipsUndersizedBlocksInTopClass(t *testing.T) {
	// Blocks of 224 bytes and the multi-KiB pool remainder share the
	// open-ended top class under the default sizing. A small free block
	// at that list's head must not be handed out for a larger request.
	a := newTestAllocator(t)

	small, err := a.Allocate(200)
	if err != nil {
		t.Fatalf("Allocate(200): %v", err)
	}

	// Pin an allocated block behind small so freeing it cannot coalesce
	// with the trailing pool remainder.
	if _, err := a.Allocate(200); err != nil {
		t.Fatalf("Allocate barrier: %v", err)
	}

	if err := a.Deallocate(small); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	big, err := a.Allocate(1024)
	if err != nil {
		t.Fatalf("Allocate(1024): %v", err)
	}

	if got := uint32(len(a.Bytes(big))); got < 1024 {
		t.Fatalf("payload = %d bytes, want >= 1024: an undersized top-class block was handed out", got)
	}

	a.Audit()
}

func TestDeallocateRejectsDoubleFree(t *testing.T) {
	a := newTestAllocator(t)

	p, _ := a.Allocate(32)

	if err := a.Deallocate(p); err != nil {
		t.Fatalf("first Deallocate: %v", err)
	}

	if err := a.Deallocate(p); err == nil {
		t.Fatal("second Deallocate on the same pointer should have failed")
	}
}

func TestDeallocateRejectsForeignPointer(t *testing.T) {
	a := newTestAllocator(t)
	_, _ = a.Allocate(32)

	foreign := Ptr{pool: 99, offset: 16}
	if err := a.Deallocate(foreign); err == nil {
		t.Fatal("Deallocate should reject a pointer into a pool this allocator never acquired")
	}
}

func TestAllocateExpandsAcrossPools(t *testing.T) {
	a := newTestAllocator(t, WithPoolSize(4096), WithMaxPools(4))

	for i := 0; i < 10; i++ {
		if _, err := a.Allocate(1024); err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
	}

	if got := a.PoolCount(); got < 2 {
		t.Fatalf("PoolCount = %d, want at least 2 after exceeding one pool's capacity", got)
	}

	a.Audit()
}

func TestAllocateReturnsOutOfMemoryAtPoolCap(t *testing.T) {
	a := newTestAllocator(t, WithPoolSize(128), WithMaxPools(1))

	for {
		if _, err := a.Allocate(32); err != nil {
			return
		}
	}
}

func TestOwnsDistinguishesForeignPointers(t *testing.T) {
	a := newTestAllocator(t)

	p, _ := a.Allocate(32)
	if !a.Owns(p) {
		t.Fatal("Owns should be true for a pointer this allocator just returned")
	}

	if a.Owns(Ptr{pool: 7, offset: 0}) {
		t.Fatal("Owns should be false for a pool index this allocator never acquired")
	}
}

func TestSplitResidueIsReusable(t *testing.T) {
	a := newTestAllocator(t)

	big, err := a.Allocate(2000)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := a.Deallocate(big); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	small, err := a.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}

	if !a.Owns(small) {
		t.Fatal("allocator should own the freshly split block")
	}

	a.Audit()
}

func TestManySmallAllocationsThenFreeAll(t *testing.T) {
	a := newTestAllocator(t)

	const n = 200

	ptrs := make([]Ptr, 0, n)

	for i := 0; i < n; i++ {
		p, err := a.Allocate(uint32(16 + i%48))
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}

		ptrs = append(ptrs, p)
	}

	a.Audit()

	for i, p := range ptrs {
		if i%2 == 0 {
			if err := a.Deallocate(p); err != nil {
				t.Fatalf("Deallocate #%d: %v", i, err)
			}
		}
	}

	a.Audit()

	for i, p := range ptrs {
		if i%2 != 0 {
			if err := a.Deallocate(p); err != nil {
				t.Fatalf("Deallocate #%d: %v", i, err)
			}
		}
	}

	a.Audit()

	stats := a.Stats()
	if stats.ActiveAllocations != 0 {
		t.Fatalf("ActiveAllocations = %d, want 0", stats.ActiveAllocations)
	}
}
