package allocator

import (
	"sort"

	tlsferrors "github.com/orizon-lang/tlsf/internal/errors"
)

// Audit walks every pool and free list checking the structural
// invariants the allocator maintains: bitmap/list agreement, physical
// chain integrity, maximal coalescing, and free-list membership. It is
// never called from Allocate/Deallocate — it exists for tests and for
// callers who want to validate state after injecting their own
// corruption scenarios. A failure panics with a Corruption error;
// Audit never returns an error value because there is no well-defined
// way to keep operating on an allocator that fails its own
// invariants.
func (a *Allocator) Audit() {
	a.auditBitmapConsistency()

	for _, p := range a.pools {
		a.auditPoolChain(p)
	}

	a.auditFreeListMembership()
}

// auditBitmapConsistency checks that flBitmap/slBitmap exactly mirror
// which (fl, sl) lists are non-empty.
func (a *Allocator) auditBitmapConsistency() {
	for fl := 0; fl < a.cfg.FLCount; fl++ {
		slNonEmpty := uint32(0)

		for sl := 0; sl < a.cfg.SLCount; sl++ {
			if a.heads[fl][sl] != nil {
				slNonEmpty |= 1 << uint(sl)
			}
		}

		if slNonEmpty != a.slBitmap[fl] {
			panic(tlsferrors.Corruption("bitmap", "sl_bitmap does not match occupied second-level lists"))
		}

		flBit := uint32(0)
		if slNonEmpty != 0 {
			flBit = 1 << uint(fl)
		}

		if a.flBitmap&(1<<uint(fl)) != flBit {
			panic(tlsferrors.Corruption("bitmap", "fl_bitmap does not match occupied first-level classes"))
		}
	}
}

// auditPoolChain walks one pool's blocks in physical order, checking
// that the phys_prev chain is consistent and that no two physically
// adjacent blocks are both free — coalescing is maximal, so a free
// block's neighbors, if present, are always allocated.
func (a *Allocator) auditPoolChain(p *Pool) {
	offsets := make([]uint32, 0, len(p.blocks))
	for off := range p.blocks {
		offsets = append(offsets, off)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	var prev *Block

	for i, off := range offsets {
		b := p.blocks[off]

		if b.offset != off {
			panic(tlsferrors.Corruption("physical chain", "block stored under the wrong offset key"))
		}

		if prev != nil {
			if prev.end() != b.offset {
				panic(tlsferrors.Corruption("physical chain", "gap or overlap between adjacent blocks"))
			}

			if b.physPrev != prev {
				panic(tlsferrors.Corruption("physical chain", "phys_prev does not point at the actual physical predecessor"))
			}

			if prev.IsFree() && b.IsFree() {
				panic(tlsferrors.Corruption("coalescing", "two physically adjacent blocks are both free"))
			}
		} else if b.physPrev != nil {
			panic(tlsferrors.Corruption("physical chain", "first block in a pool must have a nil phys_prev"))
		}

		if i == len(offsets)-1 && b.end() != p.size {
			panic(tlsferrors.Corruption("physical chain", "last block does not end at its pool's boundary"))
		}

		prev = b
	}
}

// auditFreeListMembership checks that every block reachable from a
// free-list head is marked free, maps back to the (fl, sl) it is
// stored under, and that the list's prev/next links agree with each
// other.
func (a *Allocator) auditFreeListMembership() {
	for fl := 0; fl < a.cfg.FLCount; fl++ {
		for sl := 0; sl < a.cfg.SLCount; sl++ {
			var prev *Block

			for b := a.heads[fl][sl]; b != nil; b = b.freeNext {
				if !b.IsFree() {
					panic(tlsferrors.Corruption("free list", "block on a free list is not marked free"))
				}

				wantFl, wantSl := mappingInsert(a.cfg, b.Size())
				if wantFl != fl || wantSl != sl {
					panic(tlsferrors.Corruption("free list", "block is filed under a class other than its size maps to"))
				}

				if b.freePrev != prev {
					panic(tlsferrors.Corruption("free list", "back-link does not match forward traversal"))
				}

				prev = b
			}
		}
	}
}
