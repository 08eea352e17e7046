package allocator

import tlsferrors "github.com/orizon-lang/tlsf/internal/errors"

// headerSize is the number of bytes a real boundary-tag header would
// occupy: phys_prev, free_next, free_prev, size, each a 32-bit word.
// The metadata itself is kept in the Block struct below — a side
// table, since Go forbids casting arbitrary buffer bytes to a header
// struct — but the byte budget is still reserved out of every block's
// size so size-class arithmetic matches an overlaid implementation.
const headerSize = 16

// Block is the boundary-tagged record for one span of bytes within a
// Pool. Its size includes headerSize; block sizes are always even, so
// the low bit of sizeAndFlag is free to carry the free flag.
//
// physPrev links to the block immediately preceding this one in
// physical memory (nil iff this block starts at its pool's first
// byte) — the boundary tag proper. freeNext/freePrev are the
// free-list overlay, valid only while the block is free.
type Block struct {
	pool        *Pool
	offset      uint32
	sizeAndFlag uint32
	physPrev    *Block
	freeNext    *Block
	freePrev    *Block
}

const freeBit = uint32(1)

// Size returns the total block size in bytes, header included.
func (b *Block) Size() uint32 {
	return b.sizeAndFlag &^ freeBit
}

// IsFree reports whether the block currently sits on a free list.
func (b *Block) IsFree() bool {
	return b.sizeAndFlag&freeBit != 0
}

// setSize replaces the size while preserving the free bit. size must
// already be even; MinBlock's granularity guarantees this.
func (b *Block) setSize(size uint32) {
	b.sizeAndFlag = size | (b.sizeAndFlag & freeBit)
}

func (b *Block) setFree(free bool) {
	if free {
		b.sizeAndFlag |= freeBit
	} else {
		b.sizeAndFlag &^= freeBit
	}
}

// PayloadSize returns the usable bytes available to the caller once
// the header budget is subtracted.
func (b *Block) PayloadSize() uint32 {
	return b.Size() - headerSize
}

// payloadOffset is the byte offset, within the pool's backing slice,
// of this block's first payload byte.
func (b *Block) payloadOffset() uint32 {
	return b.offset + headerSize
}

// end is the byte offset one past this block's last byte — the offset
// a physical successor would start at.
func (b *Block) end() uint32 {
	return b.offset + b.Size()
}

// alignUp rounds size up to the nearest multiple of alignment.
// alignment must be a power of two.
func alignUp(size, alignment uint32) uint32 {
	return (size + alignment - 1) &^ (alignment - 1)
}

// blockSizeFor computes the total block size (header included) needed
// to satisfy a payload request of n bytes:
// max(MinBlock, round_up(n + headerSize, MinBlock)). n large enough
// to wrap uint32 once the header and alignment padding are added is
// rejected rather than silently truncated.
func blockSizeFor(cfg Config, n uint32) (uint32, error) {
	// Leave room for the header and the final round-up so alignUp
	// cannot wrap.
	maxBeforeAlign := ^uint32(0) - headerSize - (cfg.MinBlock - 1)

	if n > maxBeforeAlign {
		return 0, tlsferrors.IntegerOverflow("blockSizeFor", n, headerSize, cfg.MinBlock)
	}

	s := alignUp(n+headerSize, cfg.MinBlock)
	if s < cfg.MinBlock {
		s = cfg.MinBlock
	}

	return s, nil
}
