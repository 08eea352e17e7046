package allocator

import (
	"fmt"

	tlsferrors "github.com/orizon-lang/tlsf/internal/errors"
)

// Config carries the sizing parameters that shape a TLSF allocator's
// two-level index. The defaults match the canonical TLSF design point;
// the fields are exported so callers (and internal/config's hot-reload
// watcher) can tune them per instance.
type Config struct {
	// FLCount is the number of first-level (power-of-two) size classes.
	FLCount int
	// SLCount is the number of second-level subclasses per first-level class.
	SLCount int
	// MinBlock is the minimum block size in bytes, including the header.
	MinBlock uint32
	// PoolSize is the size in bytes of each region requested from the
	// PoolProvider.
	PoolSize uint32
	// MaxPools bounds how many pools the registry will track.
	MaxPools int
	// Alignment is the requested payload alignment. Validate requires a
	// power of two and a multiple of 8; nothing else reads it. Payload
	// offsets are always a block offset (a multiple of MinBlock) plus
	// headerSize, whatever Alignment holds.
	Alignment uint32
}

// DefaultConfig returns the canonical sizing parameters: FLCount=8,
// SLCount=4, MinBlock=32, PoolSize=32KiB, MaxPools=10.
func DefaultConfig() Config {
	return Config{
		FLCount:   8,
		SLCount:   4,
		MinBlock:  32,
		PoolSize:  32 * 1024,
		MaxPools:  10,
		Alignment: 8,
	}
}

// Option mutates a Config before validation.
type Option func(*Config)

// WithClasses overrides the first- and second-level class counts.
func WithClasses(flCount, slCount int) Option {
	return func(c *Config) {
		c.FLCount = flCount
		c.SLCount = slCount
	}
}

// WithMinBlock overrides the minimum block size.
func WithMinBlock(minBlock uint32) Option {
	return func(c *Config) { c.MinBlock = minBlock }
}

// WithPoolSize overrides the per-pool region size requested from the provider.
func WithPoolSize(size uint32) Option {
	return func(c *Config) { c.PoolSize = size }
}

// WithMaxPools overrides the pool registry capacity.
func WithMaxPools(maxPools int) Option {
	return func(c *Config) { c.MaxPools = maxPools }
}

// WithAlignment overrides Config.Alignment (validated only; see its
// field comment).
func WithAlignment(alignment uint32) Option {
	return func(c *Config) { c.Alignment = alignment }
}

// Validate checks the invariants the mapping and splitting logic rely on.
func (c Config) Validate() error {
	if c.FLCount <= 0 || c.FLCount > 32 {
		return fmt.Errorf("tlsf: FLCount must be in [1,32], got %d", c.FLCount)
	}

	if c.SLCount <= 0 || c.SLCount > 32 {
		return fmt.Errorf("tlsf: SLCount must be in [1,32], got %d", c.SLCount)
	}

	// Power of two so the size-rounding mask in blockSizeFor is exact;
	// this also guarantees MinBlock is even, keeping the low size bit
	// free for the free flag.
	if c.MinBlock < headerSize || c.MinBlock&(c.MinBlock-1) != 0 {
		return tlsferrors.InvalidSize(uintptr(c.MinBlock),
			fmt.Sprintf("MinBlock must be a power of two and at least %d", headerSize))
	}

	if c.PoolSize < c.MinBlock {
		return tlsferrors.InvalidSize(uintptr(c.PoolSize),
			fmt.Sprintf("PoolSize must be at least MinBlock (%d)", c.MinBlock))
	}

	if c.MaxPools <= 0 {
		return fmt.Errorf("tlsf: MaxPools must be positive, got %d", c.MaxPools)
	}

	if c.Alignment == 0 || c.Alignment&(c.Alignment-1) != 0 {
		return fmt.Errorf("tlsf: Alignment must be a power of two, got %d", c.Alignment)
	}

	if c.Alignment%8 != 0 {
		return fmt.Errorf("tlsf: Alignment must be a multiple of 8, got %d", c.Alignment)
	}

	return nil
}
