package worker

import "sync/atomic"

// Stats tracks operational counters for a worker. Counters are atomic so a
// snapshot can be taken from outside the worker thread; the worker itself
// only ever writes from its own goroutine.
type Stats struct {
	// Bridge lifecycle
	BridgesCreated atomic.Uint64
	BridgesRemoved atomic.Uint64
	ActiveBridges  atomic.Int64

	// Teardown accounting
	Teardowns        atomic.Uint64
	ENOBUFSTeardowns atomic.Uint64

	// Accept path
	AcceptRetries   atomic.Uint64 // transient accept errnos
	AcceptsRejected atomic.Uint64 // accepted fds closed for lack of a target

	// Relay path
	BytesRelayed atomic.Uint64
	ShortWrites  atomic.Uint64

	// Buffer conservation: every buffer-select completion checks a segment
	// out; every provide-buffers op returns one. The difference is the
	// number of segments held by handlers or in-flight writes.
	SegmentsCheckedOut atomic.Uint64
	SegmentsReturned   atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BridgesCreated     uint64
	BridgesRemoved     uint64
	ActiveBridges      int64
	Teardowns          uint64
	ENOBUFSTeardowns   uint64
	AcceptRetries      uint64
	AcceptsRejected    uint64
	BytesRelayed       uint64
	ShortWrites        uint64
	SegmentsCheckedOut uint64
	SegmentsReturned   uint64
	OpsHighWater       int
}

func (s *Stats) snapshot(opsHighWater int) Snapshot {
	return Snapshot{
		BridgesCreated:     s.BridgesCreated.Load(),
		BridgesRemoved:     s.BridgesRemoved.Load(),
		ActiveBridges:      s.ActiveBridges.Load(),
		Teardowns:          s.Teardowns.Load(),
		ENOBUFSTeardowns:   s.ENOBUFSTeardowns.Load(),
		AcceptRetries:      s.AcceptRetries.Load(),
		AcceptsRejected:    s.AcceptsRejected.Load(),
		BytesRelayed:       s.BytesRelayed.Load(),
		ShortWrites:        s.ShortWrites.Load(),
		SegmentsCheckedOut: s.SegmentsCheckedOut.Load(),
		SegmentsReturned:   s.SegmentsReturned.Load(),
		OpsHighWater:       opsHighWater,
	}
}

// SegmentsHeld returns how many segments are currently outside the
// kernel's available set.
func (s Snapshot) SegmentsHeld() uint64 {
	return s.SegmentsCheckedOut - s.SegmentsReturned
}
