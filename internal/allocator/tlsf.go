// Package allocator implements a Two-Level Segregated Fit (TLSF)
// dynamic memory allocator: a two-level segregated bitmap over
// per-class free lists, boundary-tagged blocks enabling O(1)
// physical-neighbor coalescing, and the split/merge discipline tying
// them together. The core here is deliberately single-threaded
// (Concurrent, in concurrent.go, is the explicit external wrapper);
// bulk memory is acquired from a caller-supplied PoolProvider rather
// than the OS directly.
package allocator

import (
	tlsferrors "github.com/orizon-lang/tlsf/internal/errors"
)

// Allocator is a TLSF heap over one or more pools acquired lazily from
// a PoolProvider. The zero value is not usable; construct with New.
type Allocator struct {
	cfg      Config
	provider PoolProvider

	pools []*Pool

	flBitmap uint32
	slBitmap []uint32   // len cfg.FLCount
	heads    [][]*Block // heads[fl][sl]

	stats stats
}

// New constructs an Allocator against the given provider, applying any
// Options on top of DefaultConfig. No pool is acquired until the first
// Allocate call that needs one.
func New(provider PoolProvider, opts ...Option) (*Allocator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Allocator{
		cfg:      cfg,
		provider: provider,
		slBitmap: make([]uint32, cfg.FLCount),
		heads:    make([][]*Block, cfg.FLCount),
	}

	for i := range a.heads {
		a.heads[i] = make([]*Block, cfg.SLCount)
	}

	return a, nil
}

// Config returns the sizing parameters this allocator was built with.
func (a *Allocator) Config() Config {
	return a.cfg
}

// Allocate reserves n contiguous payload bytes and returns a Ptr to
// them. A request of zero bytes is satisfied with a singleton
// MinBlock-sized block rather than a sentinel, so Owns and Deallocate
// work uniformly regardless of requested size.
func (a *Allocator) Allocate(n uint32) (Ptr, error) {
	s, err := blockSizeFor(a.cfg, n)
	if err != nil {
		return Ptr{}, err
	}

	b := a.findSuitable(s)
	if b == nil {
		if err := a.acquirePool(); err != nil {
			return Ptr{}, err
		}

		b = a.findSuitable(s)
		if b == nil {
			return Ptr{}, tlsferrors.OutOfMemory(s)
		}
	}

	return a.allocateFromBlock(b, s), nil
}

// allocateFromBlock removes b from its free list, splits off any
// residue large enough to stay a block in its own right, and returns a
// Ptr to b's payload.
func (a *Allocator) allocateFromBlock(b *Block, s uint32) Ptr {
	a.removeFree(b)

	if b.Size()-s >= a.cfg.MinBlock {
		a.split(b, s)
	}

	a.stats.onAlloc(b.Size())

	return Ptr{pool: b.pool.index, offset: b.payloadOffset()}
}

// split carves an allocated-size block off the head of b, returning
// the residue to a free list. The residual block has never been on a
// free list; insertFree places no requirement that it was.
func (a *Allocator) split(b *Block, s uint32) {
	total := b.Size()
	residue := total - s
	newOffset := b.offset + s

	b.setSize(s)

	tail := &Block{
		pool:        b.pool,
		offset:      newOffset,
		sizeAndFlag: residue,
		physPrev:    b,
	}
	b.pool.blocks[newOffset] = tail

	if next := b.pool.physicalNext(tail); next != nil {
		next.physPrev = tail
	}

	a.insertFree(tail)
}

// Deallocate returns the block at p to the allocator, coalescing with
// any free physical neighbors so no two adjacent blocks are ever both
// free. A p that was not returned by a live Allocate call on this
// Allocator is reported as an error rather than corrupting state.
func (a *Allocator) Deallocate(p Ptr) error {
	b, err := a.blockFor(p)
	if err != nil {
		return err
	}

	// Counted before coalescing so the freed byte total mirrors what
	// onAlloc recorded for this block, keeping BytesInUse exact.
	a.stats.onFree(b.Size())

	if next := b.pool.physicalNext(b); next != nil && next.IsFree() {
		a.removeFree(next)
		a.mergeBlocks(b, next)
	}

	if b.physPrev != nil && b.physPrev.IsFree() {
		prev := b.physPrev
		a.removeFree(prev)
		a.mergeBlocks(prev, b)
		b = prev
	}

	a.insertFree(b)

	return nil
}

// mergeBlocks absorbs second into first: first grows by second's
// size, second's header is forgotten, and the block physically after
// second (if any) has its phys_prev repointed at first. Both blocks
// must already be off every free list when this is called.
func (a *Allocator) mergeBlocks(first, second *Block) {
	pool := first.pool

	delete(pool.blocks, second.offset)
	first.setSize(first.Size() + second.Size())

	if next := pool.physicalNext(first); next != nil {
		next.physPrev = first
	}
}

// blockFor recovers the Block for a Ptr previously returned by
// Allocate: the block's base sits one header below the payload
// offset.
func (a *Allocator) blockFor(p Ptr) (*Block, error) {
	if int(p.pool) >= len(a.pools) {
		return nil, tlsferrors.NewStandardError(tlsferrors.CategoryMemory, "INVALID_FREE",
			"pointer does not belong to any pool of this allocator", nil)
	}

	pool := a.pools[p.pool]
	if p.offset < headerSize || p.offset > pool.size {
		return nil, tlsferrors.PointerArithmetic("pointer offset outside its pool")
	}

	b := pool.blockAt(p.offset - headerSize)
	if b == nil {
		return nil, tlsferrors.IndexOutOfBounds(uintptr(p.offset-headerSize), uintptr(pool.size))
	}

	if b.IsFree() {
		return nil, tlsferrors.NewStandardError(tlsferrors.CategoryMemory, "DOUBLE_FREE",
			"block is already on a free list", nil)
	}

	return b, nil
}

// Bytes returns the writable payload slice for a live Ptr.
func (a *Allocator) Bytes(p Ptr) []byte {
	b, err := a.blockFor(p)
	if err != nil {
		return nil
	}

	return b.pool.backing[p.offset : p.offset+b.PayloadSize()]
}

// Owns reports whether p lies within a pool managed by this
// allocator, independent of whether the block there is currently
// allocated or free.
func (a *Allocator) Owns(p Ptr) bool {
	if int(p.pool) >= len(a.pools) {
		return false
	}

	pool := a.pools[p.pool]

	return p.offset < pool.size
}

// PoolCount returns the number of pools currently under management.
func (a *Allocator) PoolCount() int {
	return len(a.pools)
}

// acquirePool requests a new pool from the provider and files it as
// one maximal free block with no physical predecessor.
func (a *Allocator) acquirePool() error {
	if len(a.pools) >= a.cfg.MaxPools {
		return tlsferrors.TooManyPools(a.cfg.MaxPools)
	}

	region, err := a.provider.AcquirePool(a.cfg.PoolSize)
	if err != nil {
		return tlsferrors.OutOfMemory(a.cfg.PoolSize)
	}

	if region == nil {
		return tlsferrors.NullPointer("PoolProvider.AcquirePool")
	}

	pool := newPool(region)
	pool.index = uint16(len(a.pools))
	a.pools = append(a.pools, pool)

	head := &Block{
		pool:        pool,
		offset:      0,
		sizeAndFlag: uint32(len(region)),
		physPrev:    nil,
	}
	pool.blocks[0] = head

	a.insertFree(head)
	a.stats.poolsAcquired++

	return nil
}

// findSuitable locates a free block of size >= s: round the request up
// to a class whose members are guaranteed sufficient, then take the
// first fitting block in the first non-empty list at or above that
// class.
func (a *Allocator) findSuitable(s uint32) *Block {
	fl, sl := mappingSearch(a.cfg, s)

	if sl2 := ffsFrom(a.slBitmap[fl], sl); sl2 != -1 {
		if b := a.firstFit(fl, sl2, s); b != nil {
			return b
		}
	}

	fl2 := ffsFrom(a.flBitmap, fl+1)
	if fl2 == -1 {
		return nil
	}

	sl2 := ffsFrom(a.slBitmap[fl2], 0)
	if sl2 == -1 {
		return nil
	}

	return a.firstFit(fl2, sl2, s)
}

// firstFit returns the first block of size >= s on heads[fl][sl], or
// nil. For every bounded class the head itself is guaranteed
// sufficient by mappingSearch's rounding, so selection is O(1). The
// top class (FLCount-1, SLCount-1) is the one exception: it is
// open-ended, holding both its own band and every larger size the
// first-level clamp folds into it, so a walk along the overlay links
// is required there.
func (a *Allocator) firstFit(fl, sl int, s uint32) *Block {
	b := a.heads[fl][sl]
	if fl != a.cfg.FLCount-1 || sl != a.cfg.SLCount-1 {
		return b
	}

	for ; b != nil; b = b.freeNext {
		if b.Size() >= s {
			return b
		}
	}

	return nil
}

// insertFree files b at the head of the free list its current size
// maps to and sets its free bit.
func (a *Allocator) insertFree(b *Block) {
	fl, sl := mappingInsert(a.cfg, b.Size())

	b.setFree(true)
	b.freePrev = nil
	b.freeNext = a.heads[fl][sl]

	if b.freeNext != nil {
		b.freeNext.freePrev = b
	}

	a.heads[fl][sl] = b
	a.refreshBitmap(fl, sl)
}

// removeFree unlinks b from its free list. The unlink must go through
// b's own back-link: b can sit anywhere in the list, not just at its
// head.
func (a *Allocator) removeFree(b *Block) {
	fl, sl := mappingInsert(a.cfg, b.Size())

	if b.freePrev != nil {
		b.freePrev.freeNext = b.freeNext
	} else {
		a.heads[fl][sl] = b.freeNext
	}

	if b.freeNext != nil {
		b.freeNext.freePrev = b.freePrev
	}

	b.freeNext = nil
	b.freePrev = nil
	b.setFree(false)

	a.refreshBitmap(fl, sl)
}

// refreshBitmap re-derives the emptiness bits for heads[fl][sl] after
// a list mutation, keeping both bitmap levels exact.
func (a *Allocator) refreshBitmap(fl, sl int) {
	if a.heads[fl][sl] != nil {
		a.slBitmap[fl] |= 1 << uint(sl)
		a.flBitmap |= 1 << uint(fl)

		return
	}

	a.slBitmap[fl] &^= 1 << uint(sl)
	if a.slBitmap[fl] == 0 {
		a.flBitmap &^= 1 << uint(fl)
	}
}
