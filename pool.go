package kdbus

import (
	"fmt"
	"sync"
)

// Pool is a connection's output-buffer allocator, satisfying
// [registry.Pool]. The original kernel core backs this with a
// memfd-backed, mmap-shared ring buffer; that memory-management
// machinery is out of scope here (see SPEC_FULL.md's Non-goals), so
// Pool is a plain growing byte slice, just enough to exercise
// [registry.Registry.List]'s alloc/write/free contract. It does not
// reclaim freed regions.
type Pool struct {
	mu     sync.Mutex
	buf    []byte
	cursor uint64
}

// NewPool creates an empty pool. It grows on demand as Alloc requests
// exceed its current capacity.
func NewPool() *Pool {
	return &Pool{}
}

// Alloc reserves size bytes and returns their offset, satisfying
// [registry.Pool].
func (p *Pool) Alloc(size uint64) (offset uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	off := p.cursor
	need := off + size
	if need > uint64(len(p.buf)) {
		grown := make([]byte, need)
		copy(grown, p.buf)
		p.buf = grown
	}
	p.cursor = need
	return off, nil
}

// Write copies data into the region starting at offset, satisfying
// [registry.Pool]. Writing beyond the pool's current capacity fails.
func (p *Pool) Write(offset uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := offset + uint64(len(data))
	if end > uint64(len(p.buf)) {
		return fmt.Errorf("kdbus: pool write [%d,%d) exceeds capacity %d", offset, end, len(p.buf))
	}
	copy(p.buf[offset:end], data)
	return nil
}

// Read returns a copy of the size bytes starting at offset, for
// callers (tests, the CLI) that want to decode a List result.
func (p *Pool) Read(offset, size uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := offset + size
	if end > uint64(len(p.buf)) {
		return nil, fmt.Errorf("kdbus: pool read [%d,%d) exceeds capacity %d", offset, end, len(p.buf))
	}
	out := make([]byte, size)
	copy(out, p.buf[offset:end])
	return out, nil
}

// Free releases the region starting at offset, satisfying
// [registry.Pool]. This pool never reclaims space (see the type
// doc), so Free is a deliberate no-op rather than a leak: nothing
// here tracks allocation sizes to reclaim against.
func (p *Pool) Free(offset uint64) {}
