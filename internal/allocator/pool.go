package allocator

// Ptr identifies a block's payload as a pool id plus byte offset
// rather than an absolute address. This is what Allocate returns and
// Deallocate consumes; the zero value is never a valid live pointer
// (pool 0, offset 0 is always a pool's own header-reserved byte
// range, never a payload start).
type Ptr struct {
	pool   uint16
	offset uint32
}

// Valid reports whether p looks like a Ptr obtained from Allocate,
// without consulting the allocator. It never indicates that the block
// at p is still allocated — Owns does that.
func (p Ptr) Valid() bool {
	return p != Ptr{}
}

// Pool is one backing region acquired from a PoolProvider. Its backing
// slice holds only payload bytes; block headers are tracked out of
// band in Block structs reachable from blocks, keyed by the offset at
// which each block starts.
type Pool struct {
	backing []byte
	blocks  map[uint32]*Block // offset -> block, both free and allocated
	size    uint32
	index   uint16 // this pool's position in the allocator's pool registry
}

func newPool(backing []byte) *Pool {
	return &Pool{
		backing: backing,
		blocks:  make(map[uint32]*Block, 8),
		size:    uint32(len(backing)),
	}
}

// blockAt returns the block starting at offset within this pool, or
// nil if none exists there (e.g. offset is past the pool's end).
func (p *Pool) blockAt(offset uint32) *Block {
	return p.blocks[offset]
}

// physicalNext returns the block immediately following b in memory
// within the same pool, or nil if b ends at the pool's boundary.
func (p *Pool) physicalNext(b *Block) *Block {
	end := b.end()
	if end >= p.size {
		return nil
	}

	return p.blockAt(end)
}
