// Package upstream reserves the seam for upstream connection reuse. The
// worker connects a fresh socket per bridge today; a keep-alive pool slots
// in behind SlotPool without touching the relay path.
package upstream

import "github.com/saiintbrisson/ringlb/internal/target"

// Slot is a claim on one upstream connection attempt. A future pooling
// implementation returns established fds here.
type Slot struct {
	// FD is an already-established upstream fd, or -1 when the caller
	// must open a fresh socket.
	FD int
}

// SlotPool acquires and releases upstream slots per target.
type SlotPool interface {
	// Acquire claims a slot for t. ok is false when the pool has nothing
	// to offer and the caller should connect fresh.
	Acquire(t *target.Target) (Slot, bool)

	// Release returns a slot after the bridge closes.
	Release(s Slot)
}

// NoPool always makes the caller connect fresh.
type NoPool struct{}

func (NoPool) Acquire(*target.Target) (Slot, bool) {
	return Slot{FD: -1}, false
}

func (NoPool) Release(Slot) {}
