// Package balancer selects the next upstream address per connection
// attempt.
package balancer

import (
	"errors"
	"net"
	"sync/atomic"

	"github.com/saiintbrisson/ringlb/internal/target"
)

// ErrNoAvailableTarget is returned when every target is either suspended
// or filtered out; the accepted downstream fd is closed by the caller.
var ErrNoAvailableTarget = errors.New("no available target")

// ErrNotImplemented is returned by strategies that are declared but not
// implemented.
var ErrNotImplemented = errors.New("strategy not implemented")

// Strategy identifies the selection algorithm. It is a tagged variant
// chosen once per server at configuration time, not a dynamic interface.
type Strategy uint8

const (
	StrategyRoundRobin Strategy = iota
	StrategyLeastConnection
)

func (s Strategy) String() string {
	switch s {
	case StrategyRoundRobin:
		return "round-robin"
	case StrategyLeastConnection:
		return "least-connection"
	default:
		return "unknown"
	}
}

// RoundRobin holds the shared selection cursor. The counter is atomic so
// selection is valid from concurrent call sites, though the single-worker
// core only ever selects from its own thread.
type RoundRobin struct {
	current atomic.Uint64
}

// NextWrapping advances the cursor and returns it modulo ceil.
func (r *RoundRobin) NextWrapping(ceil int) int {
	return int((r.current.Add(1) - 1) % uint64(ceil))
}

// Picker applies a Strategy over a target set.
type Picker struct {
	targets  []*target.Target
	strategy Strategy
	rr       RoundRobin
}

// NewPicker builds a picker over targets. The slice is not copied; it must
// not be mutated afterwards.
func NewPicker(targets []*target.Target, strategy Strategy) *Picker {
	return &Picker{targets: targets, strategy: strategy}
}

// Next selects an address for one connection attempt, returning the
// target it belongs to.
//
// Round-robin skips suspended targets and, in the current core, non-IPv4
// addresses. The IPv4-only filter is a known limitation tied to the proxy
// path; revisit together with the socket op's address family handling.
// Each target is considered at most once per call, so a fully suspended
// set fails with ErrNoAvailableTarget instead of spinning.
func (p *Picker) Next() (*net.TCPAddr, *target.Target, error) {
	switch p.strategy {
	case StrategyRoundRobin:
		for i := 0; i < len(p.targets); i++ {
			idx := p.rr.NextWrapping(len(p.targets))
			t := p.targets[idx]
			if !t.IsAvailable() {
				continue
			}

			addr := t.Addr()
			if addr.IP.To4() == nil {
				continue
			}
			return addr, t, nil
		}
		return nil, nil, ErrNoAvailableTarget
	case StrategyLeastConnection:
		return nil, nil, ErrNotImplemented
	default:
		return nil, nil, ErrNotImplemented
	}
}
