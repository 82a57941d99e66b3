package registry

import "encoding/binary"

// ListFilter selects which entries [Registry.List] enumerates.
type ListFilter struct {
	// Unique includes one record per connection in the peers slice
	// passed to List (the bus's set of unique connection identities).
	Unique bool
	// Names includes one record per well-known name in the registry.
	Names bool
	// IncludeStarters includes starter-owned names/connections that
	// would otherwise be skipped.
	IncludeStarters bool
	// IncludeQueued includes names that currently have a queue
	// policy, which are otherwise skipped.
	IncludeQueued bool
}

// recordHeaderSize is the fixed portion of one listing record: a
// uint64 total size, a uint32 flags word (padded to 8 bytes), and a
// uint64 owner connection id.
const recordHeaderSize = 24

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

func encodeRecord(buf []byte, flags Flags, ownerID uint64, name string) []byte {
	var nameBytes []byte
	if name != "" {
		nameBytes = append([]byte(name), 0)
	}
	size := uint64(recordHeaderSize) + uint64(len(nameBytes))
	rec := make([]byte, align8(size))
	binary.LittleEndian.PutUint64(rec[0:8], size)
	binary.LittleEndian.PutUint32(rec[8:12], uint32(flags))
	binary.LittleEndian.PutUint64(rec[16:24], ownerID)
	copy(rec[recordHeaderSize:], nameBytes)
	return append(buf, rec...)
}

// List enumerates, subject to filter, the unique connection
// identities in peers and/or the registry's well-known names. The
// result is a header (total size, 8 bytes) followed by zero or more
// 8-byte-aligned records, written into a buffer allocated from pool.
// It returns that buffer's offset and size.
//
// The listing is a snapshot taken under the registry lock; within one
// call, each entry appears at most once. Ordering across the snapshot
// is unspecified.
//
// On any failure after the allocation succeeds, List frees it before
// returning, so callers never need to track a partially-written
// buffer themselves.
func (r *Registry) List(pool Pool, peers []Connection, filter ListFilter) (offset, size uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf []byte

	if filter.Unique {
		for _, p := range peers {
			if !filter.IncludeStarters && p.Starter() {
				continue
			}
			buf = encodeRecord(buf, 0, p.ID(), "")
		}
	}

	if filter.Names {
		for _, e := range r.entries {
			if !filter.IncludeStarters && e.starter != nil {
				continue
			}
			if !filter.IncludeQueued && e.flags&Queue != 0 {
				continue
			}
			buf = encodeRecord(buf, e.flags, e.owner.ID(), e.name)
		}
	}

	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(len(header))+uint64(len(buf)))
	full := append(header, buf...)

	off, err := pool.Alloc(uint64(len(full)))
	if err != nil {
		return 0, 0, &Error{Kind: OutOfMemory}
	}
	if err := pool.Write(off, full); err != nil {
		pool.Free(off)
		return 0, 0, err
	}
	return off, uint64(len(full)), nil
}
