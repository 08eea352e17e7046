//go:build !linux

package allocator

// MmapProvider falls back to heap-backed regions on platforms without
// a direct mmap syscall path wired in. The type still exists on every
// platform so callers can select it unconditionally; only the backing
// mechanism changes.
type MmapProvider struct {
	heap HeapProvider
}

// NewMmapProvider returns a PoolProvider. On non-Linux platforms this
// is a thin wrapper over HeapProvider.
func NewMmapProvider() *MmapProvider {
	return &MmapProvider{}
}

// AcquirePool implements PoolProvider.
func (p *MmapProvider) AcquirePool(size uint32) ([]byte, error) {
	return p.heap.AcquirePool(size)
}

// Close is a no-op on platforms without a direct mapping to release.
func (p *MmapProvider) Close() error {
	return nil
}
