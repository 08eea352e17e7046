//go:build linux

package allocator

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapProvider is a PoolProvider backed directly by anonymous mmap
// regions, bypassing the Go heap and its garbage collector entirely.
type MmapProvider struct {
	mu     sync.Mutex
	mapped [][]byte
}

// NewMmapProvider returns a PoolProvider whose regions are anonymous,
// private mmap mappings.
func NewMmapProvider() *MmapProvider {
	return &MmapProvider{}
}

// AcquirePool implements PoolProvider.
func (p *MmapProvider) AcquirePool(size uint32) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("tlsf: mmap %d bytes: %w", size, err)
	}

	p.mu.Lock()
	p.mapped = append(p.mapped, region)
	p.mu.Unlock()

	return region, nil
}

// Close unmaps every region this provider has ever handed out. The
// core allocator never calls this — pools are never reclaimed — it
// exists for callers tearing down an allocator entirely, e.g. at the
// end of a benchmark run.
func (p *MmapProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error

	for _, region := range p.mapped {
		if err := unix.Munmap(region); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tlsf: munmap: %w", err)
		}
	}

	p.mapped = nil

	return firstErr
}
