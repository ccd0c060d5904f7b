// Package ringlb is an L4 TCP load balancer built on a completion-based
// I/O ring. A single-threaded worker multiplexes downstream client
// connections onto a pool of upstream targets, relaying bytes opaquely in
// both directions.
package ringlb

import (
	"context"
	"time"

	"github.com/saiintbrisson/ringlb/internal/balancer"
	"github.com/saiintbrisson/ringlb/internal/interfaces"
	"github.com/saiintbrisson/ringlb/internal/target"
	"github.com/saiintbrisson/ringlb/internal/worker"
)

// Logger is the optional logging sink handed to a worker.
type Logger = interfaces.Logger

// Observer receives bridge lifecycle events from the worker thread.
type Observer = interfaces.Observer

// NoOpObserver discards all events.
type NoOpObserver = interfaces.NoOpObserver

// Options tunes a worker beyond its server configuration. The zero value
// selects sensible defaults throughout.
type Options struct {
	// RingEntries is the submission queue depth of the ring.
	RingEntries uint32

	// OpCapacity bounds the number of in-flight ring operations.
	OpCapacity int

	// SegmentCount and SegmentSize shape the ring-registered buffer
	// pool.
	SegmentCount uint16
	SegmentSize  int

	// CPUAffinity optionally pins the worker thread to the first listed
	// CPU.
	CPUAffinity []int

	Logger   Logger
	Observer Observer
}

// Stats is a point-in-time snapshot of a worker's counters.
type Stats struct {
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

// Worker drives one server's proxy loop.
type Worker struct {
	inner *worker.Worker
}

// NewWorker builds a worker for one server entry. The targets are
// resolved here; resolution failure is a configuration error.
func NewWorker(server ServerConfig, options *Options) (*Worker, error) {
	if err := server.Validate(); err != nil {
		return nil, WrapError("CREATE", err)
	}
	if options == nil {
		options = &Options{}
	}

	var strategy balancer.Strategy
	switch server.Strategy {
	case "", StrategyRoundRobin:
		strategy = balancer.StrategyRoundRobin
	case StrategyLeastConnection:
		return nil, NewError("CREATE", ErrCodeNotImplemented,
			"least-connection strategy is reserved but not implemented")
	}

	targets := make([]*target.Target, 0, len(server.Targets))
	for _, tc := range server.Targets {
		tgt, err := target.Resolve(tc.Address, target.Options{
			KeepAlive: time.Duration(tc.KeepAliveMs) * time.Millisecond,
			DomainTTL: time.Duration(tc.DomainTTLMs) * time.Millisecond,
		})
		if err != nil {
			return nil, &Error{
				Op:       "CREATE",
				Server:   server.Name,
				BridgeID: -1,
				Code:     ErrCodeBadConfig,
				Msg:      err.Error(),
				Inner:    err,
			}
		}
		targets = append(targets, tgt)
	}

	inner, err := worker.New(worker.Config{
		Name:         server.Name,
		Bind:         server.Bind,
		Targets:      targets,
		Strategy:     strategy,
		RingEntries:  options.RingEntries,
		OpCapacity:   options.OpCapacity,
		SegmentCount: options.SegmentCount,
		SegmentSize:  options.SegmentSize,
		CPUAffinity:  options.CPUAffinity,
		Logger:       options.Logger,
		Observer:     options.Observer,
	})
	if err != nil {
		return nil, WrapError("CREATE", err)
	}

	return &Worker{inner: inner}, nil
}

// Run binds the listener and drives the event loop until ctx is cancelled
// or a fatal error occurs. It blocks for the lifetime of the worker.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.inner.Run(ctx); err != nil {
		return WrapError("RUN", err)
	}
	return nil
}

// Stats returns a snapshot of the worker's counters. Safe to call from
// any goroutine.
func (w *Worker) Stats() Stats {
	s := w.inner.Stats()
	return Stats{
		BridgesCreated:     s.BridgesCreated,
		BridgesRemoved:     s.BridgesRemoved,
		ActiveBridges:      s.ActiveBridges,
		Teardowns:          s.Teardowns,
		ENOBUFSTeardowns:   s.ENOBUFSTeardowns,
		AcceptRetries:      s.AcceptRetries,
		AcceptsRejected:    s.AcceptsRejected,
		BytesRelayed:       s.BytesRelayed,
		ShortWrites:        s.ShortWrites,
		SegmentsCheckedOut: s.SegmentsCheckedOut,
		SegmentsReturned:   s.SegmentsReturned,
		OpsHighWater:       s.OpsHighWater,
	}
}
