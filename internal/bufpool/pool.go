// Package bufpool owns the contiguous segmented memory region the ring
// selects read buffers from. The pool itself does not track which segments
// are checked out - the kernel's provided-buffers machinery is the
// authoritative owner of the available set; a handler that consumed a
// segment owes a provide-buffers op returning exactly that index.
package bufpool

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Pool is a single anonymous mapping of count fixed-size segments.
// Segments are identified by a 16-bit index, matching the width of the
// buffer id field the kernel echoes back on buffer-select completions.
type Pool struct {
	mem        []byte
	segmentLen int
	count      uint16
}

// New allocates the backing region. Allocation failure at startup is fatal
// to the worker; callers should not retry.
func New(count uint16, segmentLen int) (*Pool, error) {
	if count == 0 || segmentLen <= 0 {
		return nil, fmt.Errorf("invalid pool geometry: count=%d segment=%d", count, segmentLen)
	}

	size := int(count) * segmentLen
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d byte buffer pool: %w", size, err)
	}

	return &Pool{
		mem:        mem,
		segmentLen: segmentLen,
		count:      count,
	}, nil
}

// Segment returns the full slice backing segment idx.
func (p *Pool) Segment(idx uint16) []byte {
	if idx >= p.count {
		panic(fmt.Sprintf("segment index %d out of range (count %d)", idx, p.count))
	}
	off := int(idx) * p.segmentLen
	return p.mem[off : off+p.segmentLen : off+p.segmentLen]
}

// SegmentPtr returns the base address of segment idx, for building ring
// entries.
func (p *Pool) SegmentPtr(idx uint16) uintptr {
	return uintptr(unsafe.Pointer(&p.Segment(idx)[0]))
}

// Base returns the address of the start of the backing region.
func (p *Pool) Base() uintptr {
	return uintptr(unsafe.Pointer(&p.mem[0]))
}

// SegmentLen returns the size in bytes of one segment.
func (p *Pool) SegmentLen() int {
	return p.segmentLen
}

// Count returns the number of segments.
func (p *Pool) Count() uint16 {
	return p.count
}

// Close unmaps the backing region. No segment may be referenced by an
// in-flight operation when Close is called.
func (p *Pool) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}
