package allocator

import "math/bits"

// fls returns the index of the highest set bit in x (floor(log2(x))),
// or -1 for x == 0. Integer bit-scan only: a floating-point log loses
// precision exactly at the power-of-two boundaries where class
// selection matters most.
func fls(x uint32) int {
	if x == 0 {
		return -1
	}

	return bits.Len32(x) - 1
}

// mappingInsert computes the (fl, sl) class a free block of the given
// size is filed under. It truncates: the class's nominal minimum never
// exceeds size, but the class's largest member can be well above it.
// That asymmetry is why allocation search (mappingSearch) must round
// up instead of reusing this function directly on a request size.
func mappingInsert(cfg Config, size uint32) (fl, sl int) {
	fl = fls(size)
	if fl >= cfg.FLCount {
		fl = cfg.FLCount - 1
	}

	if fl < 0 {
		fl = 0
	}

	base := uint32(1) << uint(fl)
	step := base / uint32(cfg.SLCount)

	if step > 0 {
		sl = int((size - base) / step)
		if sl >= cfg.SLCount {
			sl = cfg.SLCount - 1
		}
	}

	return fl, sl
}

// mappingSearch computes the class an allocation request of the given
// size must search at or above: round the request up to the next
// second-level boundary before truncating, so every member of any
// bounded class at or above the result is guaranteed sufficient.
func mappingSearch(cfg Config, size uint32) (fl, sl int) {
	if size == 0 {
		return mappingInsert(cfg, size)
	}

	fl0 := fls(size)
	base := uint32(1) << uint(fl0)
	step := base / uint32(cfg.SLCount)

	if step > 1 {
		// Round up to the next second-level boundary within this
		// class so every member of the resulting (fl, sl) is >=
		// size; mappingInsert may then truncate into a higher fl if
		// the rounding pushed size past this class's top. Widened to
		// 64 bits: near the top of the uint32 range the round-up
		// itself would wrap and file the request under a far smaller
		// class.
		rounded := (uint64(size) + uint64(step) - 1) / uint64(step) * uint64(step)
		if rounded > uint64(^uint32(0)) {
			return cfg.FLCount - 1, cfg.SLCount - 1
		}

		size = uint32(rounded)
	}

	return mappingInsert(cfg, size)
}

// ffsFrom returns the index of the lowest set bit at or after `from`
// in bitmap, or -1 if none is set.
func ffsFrom(bitmap uint32, from int) int {
	if from >= 32 {
		return -1
	}

	masked := bitmap &^ ((uint32(1) << uint(from)) - 1)
	if masked == 0 {
		return -1
	}

	return bits.TrailingZeros32(masked)
}
