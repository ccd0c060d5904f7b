// Package target resolves configured upstream addresses and tracks
// per-target availability.
package target

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Options carries the per-target tuning knobs from configuration.
type Options struct {
	KeepAlive time.Duration
	DomainTTL time.Duration
}

// Target is one configured upstream. The address set is immutable after
// resolution; only the availability timeout mutates.
type Target struct {
	addr    address
	options Options
	timeout timeout
}

// address is either a single literal socket address or the full lookup
// result of a host name. A multi-address target cycles through its entries.
type address interface {
	addr() *net.TCPAddr
}

type one struct {
	a *net.TCPAddr
}

func (o one) addr() *net.TCPAddr {
	return o.a
}

type multiple struct {
	addresses []*net.TCPAddr
	current   atomic.Uint64
}

func (m *multiple) addr() *net.TCPAddr {
	idx := m.current.Add(1) - 1
	return m.addresses[idx%uint64(len(m.addresses))]
}

// timeout tracks a deadline before which the target must not be selected.
// The zero value is always available.
type timeout struct {
	availableAt atomic.Int64 // unix nanos
}

func (t *timeout) isAvailable() bool {
	return time.Now().UnixNano() >= t.availableAt.Load()
}

func (t *timeout) suspend(d time.Duration) {
	t.availableAt.Store(time.Now().Add(d).UnixNano())
}

// Resolve parses s as a literal host:port first; on failure it performs a
// name lookup and keeps every returned address.
func Resolve(s string, options Options) (*Target, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("target %q: invalid port %q", s, portStr)
	}

	if ip := net.ParseIP(host); ip != nil {
		return &Target{
			addr:    one{a: &net.TCPAddr{IP: ip, Port: port}},
			options: options,
		}, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", s, err)
	}
	addresses := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		addresses = append(addresses, &net.TCPAddr{IP: ip.IP, Zone: ip.Zone, Port: port})
	}

	if len(addresses) == 1 {
		return &Target{
			addr:    one{a: addresses[0]},
			options: options,
		}, nil
	}
	return &Target{
		addr:    &multiple{addresses: addresses},
		options: options,
	}, nil
}

// Addr returns one address for this target. Multi-address targets advance
// their cursor, so consecutive calls rotate through the lookup results.
func (t *Target) Addr() *net.TCPAddr {
	return t.addr.addr()
}

// IsAvailable reports whether the target may be selected.
func (t *Target) IsAvailable() bool {
	return t.timeout.isAvailable()
}

// Suspend makes the target unavailable for d.
func (t *Target) Suspend(d time.Duration) {
	t.timeout.suspend(d)
}

// KeepAlive returns the configured upstream keep-alive duration (zero when
// unset). Consumed by the upstream slot pool once that exists.
func (t *Target) KeepAlive() time.Duration {
	return t.options.KeepAlive
}
