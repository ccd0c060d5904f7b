// Package bridge holds the per-connection state pairing a downstream
// (client) fd with an upstream (backend) fd.
package bridge

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Direction names one half of the relay.
type Direction uint8

const (
	// Downstream is the client side.
	Downstream Direction = iota
	// Upstream is the backend side.
	Upstream
)

// Opposite returns the other half of the relay.
func (d Direction) Opposite() Direction {
	if d == Downstream {
		return Upstream
	}
	return Downstream
}

func (d Direction) String() string {
	if d == Downstream {
		return "downstream"
	}
	return "upstream"
}

// Stage is the bridge lifecycle stage.
type Stage uint8

const (
	StageAccepted Stage = iota
	StageEstablished
)

// Bridge is the per-connection state record. All mutation happens on the
// worker thread; no synchronization.
type Bridge struct {
	ID int

	downstream int
	upstream   int
	stage      Stage
	closedN    int
	tearing    bool

	addr *net.TCPAddr

	// raw is the sockaddr the connect op points the kernel at. It lives
	// here so the pointer stays valid for the lifetime of the bridge.
	raw    unix.RawSockaddrAny
	rawLen uint32
	domain int
}

// New creates a bridge in StageAccepted for an accepted downstream fd and
// the chosen upstream address.
func New(id int, downstream int, addr *net.TCPAddr) *Bridge {
	b := &Bridge{
		ID:         id,
		downstream: downstream,
		upstream:   -1,
		addr:       addr,
	}
	b.fillSockaddr(addr)
	return b
}

func (b *Bridge) fillSockaddr(addr *net.TCPAddr) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(&b.raw))
		sa.Family = unix.AF_INET
		copy(sa.Addr[:], ip4)
		p := (*[2]byte)(unsafe.Pointer(&sa.Port))
		p[0] = byte(addr.Port >> 8)
		p[1] = byte(addr.Port)
		b.rawLen = unix.SizeofSockaddrInet4
		b.domain = unix.AF_INET
		return
	}

	sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(&b.raw))
	sa.Family = unix.AF_INET6
	copy(sa.Addr[:], addr.IP.To16())
	p := (*[2]byte)(unsafe.Pointer(&sa.Port))
	p[0] = byte(addr.Port >> 8)
	p[1] = byte(addr.Port)
	b.rawLen = unix.SizeofSockaddrInet6
	b.domain = unix.AF_INET6
}

// Addr returns the chosen upstream address.
func (b *Bridge) Addr() *net.TCPAddr {
	return b.addr
}

// Sockaddr returns the pointer and length of the prepared sockaddr for a
// connect op. The memory stays valid until the bridge is removed.
func (b *Bridge) Sockaddr() (uintptr, uint32) {
	return uintptr(unsafe.Pointer(&b.raw)), b.rawLen
}

// Domain returns the address family of the upstream address.
func (b *Bridge) Domain() int {
	return b.domain
}

// Stage returns the current lifecycle stage.
func (b *Bridge) Stage() Stage {
	return b.stage
}

// Upgrade records the upstream fd and moves the bridge to
// StageEstablished. The transition is one-way.
func (b *Bridge) Upgrade(upstream int) {
	b.upstream = upstream
	b.stage = StageEstablished
}

// FD returns the fd for a direction. The downstream fd is always
// available; requesting the upstream fd before Upgrade is a programming
// error.
func (b *Bridge) FD(d Direction) int {
	if d == Downstream {
		return b.downstream
	}
	if b.stage != StageEstablished {
		panic(fmt.Sprintf("bridge %d: upstream not established yet", b.ID))
	}
	return b.upstream
}

// CloseOne records one close completion.
func (b *Bridge) CloseOne() {
	b.closedN++
}

// Closed returns how many directions have closed.
func (b *Bridge) Closed() int {
	return b.closedN
}

// BeginTeardown marks the bridge as tearing down and reports whether this
// call was the first. Both relay directions can fail in the same drain;
// only the first failure enqueues the close pair.
func (b *Bridge) BeginTeardown() bool {
	if b.tearing {
		return false
	}
	b.tearing = true
	return true
}
