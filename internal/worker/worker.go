// Package worker implements the event-driven proxy loop: it batches ring
// submissions, reaps completions, and drives every bridge from accept
// through socket, connect and the bidirectional relay to close.
package worker

import (
	"context"
	"fmt"
	"net"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/saiintbrisson/ringlb/internal/balancer"
	"github.com/saiintbrisson/ringlb/internal/bridge"
	"github.com/saiintbrisson/ringlb/internal/bufpool"
	"github.com/saiintbrisson/ringlb/internal/constants"
	"github.com/saiintbrisson/ringlb/internal/interfaces"
	"github.com/saiintbrisson/ringlb/internal/opreg"
	"github.com/saiintbrisson/ringlb/internal/target"
	"github.com/saiintbrisson/ringlb/internal/upstream"
	"github.com/saiintbrisson/ringlb/internal/uring"
)

// Config describes one proxy worker.
type Config struct {
	Name     string
	Bind     string
	Targets  []*target.Target
	Strategy balancer.Strategy

	RingEntries  uint32
	OpCapacity   int
	SegmentCount uint16
	SegmentSize  int

	Logger   interfaces.Logger
	Observer interfaces.Observer

	// CPUAffinity optionally pins the worker thread to one of the listed
	// CPUs (worker 0 takes the first entry; there is only one worker).
	CPUAffinity []int

	// ListenFD uses an already-bound listening socket instead of binding
	// Bind (if 0, Bind is bound at startup).
	ListenFD int

	// Ring substitutes the completion interface (if nil, a kernel ring is
	// created).
	Ring uring.Ring

	// Slots substitutes the upstream slot pool (if nil, every bridge
	// connects fresh).
	Slots upstream.SlotPool
}

// Worker is the single-threaded event loop. All fields are owned by the
// loop goroutine; nothing here is safe for concurrent use except Stats.
type Worker struct {
	name   string
	bind   string
	picker *balancer.Picker

	ring    uring.Ring
	pool    *bufpool.Pool
	ops     *opreg.Registry
	bridges *bridge.Table
	slots   upstream.SlotPool

	// pre buffers submission entries between ticks; it is drained into
	// the ring ahead of every wait.
	pre []uring.Entry

	listenFD      int
	ownedListener bool
	ownedRing     bool

	logger      interfaces.Logger
	observer    interfaces.Observer
	cpuAffinity []int

	stats Stats
	fatal error
}

// New validates the configuration and allocates the worker's resources:
// the buffer pool, the operation registry, the bridge table and (unless
// one was injected) the kernel ring. Allocation failure is fatal.
func New(config Config) (*Worker, error) {
	if len(config.Targets) == 0 {
		return nil, fmt.Errorf("worker %q: no targets", config.Name)
	}
	if config.Bind == "" && config.ListenFD == 0 {
		return nil, fmt.Errorf("worker %q: no bind address", config.Name)
	}

	ringEntries := config.RingEntries
	if ringEntries == 0 {
		ringEntries = constants.DefaultRingEntries
	}
	opCapacity := config.OpCapacity
	if opCapacity <= 0 {
		opCapacity = constants.DefaultOpCapacity
	}
	segmentCount := config.SegmentCount
	if segmentCount == 0 {
		segmentCount = constants.DefaultSegmentCount
	}
	segmentSize := config.SegmentSize
	if segmentSize <= 0 {
		segmentSize = constants.DefaultSegmentSize
	}

	pool, err := bufpool.New(segmentCount, segmentSize)
	if err != nil {
		return nil, err
	}

	ring := config.Ring
	ownedRing := false
	if ring == nil {
		ring, err = uring.NewRing(ringEntries)
		if err != nil {
			pool.Close()
			return nil, err
		}
		ownedRing = true
	}

	slots := config.Slots
	if slots == nil {
		slots = upstream.NoPool{}
	}

	return &Worker{
		name:        config.Name,
		bind:        config.Bind,
		picker:      balancer.NewPicker(config.Targets, config.Strategy),
		ring:        ring,
		pool:        pool,
		ops:         opreg.NewRegistry(opCapacity),
		bridges:     bridge.NewTable(1024),
		slots:       slots,
		pre:         make([]uring.Entry, 0, 256),
		listenFD:    config.ListenFD,
		ownedRing:   ownedRing,
		logger:      config.Logger,
		observer:    config.Observer,
		cpuAffinity: config.CPUAffinity,
	}, nil
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Snapshot {
	return w.stats.snapshot(w.ops.HighWater())
}

// Run binds the listener, arms the ring and drives the event loop until
// ctx is cancelled or a fatal error occurs. It pins itself to its OS
// thread; the kernel completes operations out of order, but everything
// here runs on this one thread.
func (w *Worker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.close()

	if len(w.cpuAffinity) > 0 {
		cpu := w.cpuAffinity[0]
		var mask unix.CPUSet
		mask.Set(cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if w.logger != nil {
				w.logger.Printf("worker %s: failed to set CPU affinity to %d: %v", w.name, cpu, err)
			}
			// Continue without affinity - not fatal
		} else if w.logger != nil {
			w.logger.Debugf("worker %s: pinned to CPU %d", w.name, cpu)
		}
	}

	if err := w.init(); err != nil {
		return err
	}

	if w.logger != nil {
		w.logger.Printf("worker %s: listening on %s", w.name, w.bind)
	}

	for {
		select {
		case <-ctx.Done():
			if w.logger != nil {
				w.logger.Debugf("worker %s: stopping", w.name)
			}
			return nil
		default:
			if err := w.tick(); err != nil {
				if w.logger != nil {
					w.logger.Printf("worker %s: fatal: %v", w.name, err)
				}
				return err
			}
		}
	}
}

// init binds the listener, arms the multishot accept and registers the
// whole buffer pool with the ring.
func (w *Worker) init() error {
	if w.listenFD == 0 {
		fd, err := listen(w.bind)
		if err != nil {
			return fmt.Errorf("worker %s: %w", w.name, err)
		}
		w.listenFD = fd
		w.ownedListener = true
	}

	w.enqueue(opreg.Op{Kind: opreg.KindAccept, FD: w.listenFD})
	w.enqueue(opreg.Op{
		Kind:  opreg.KindProvideBuffers,
		Addr:  w.pool.Base(),
		Len:   uint32(w.pool.SegmentLen()),
		Count: w.pool.Count(),
	})
	return w.fatal
}

// listen binds a blocking TCP listening socket. The raw fd is handed to
// the ring's multishot accept; no net.Listener wraps it, so nothing closes
// it behind the worker's back.
func listen(bind string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", bind)
	if err != nil {
		return -1, fmt.Errorf("failed to resolve bind address %q: %w", bind, err)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa6.Addr[:], addr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to create listening socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind %q: %w", bind, err)
	}
	if err := unix.Listen(fd, constants.ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to listen on %q: %w", bind, err)
	}
	return fd, nil
}

func (w *Worker) close() {
	if w.ownedRing && w.ring != nil {
		w.ring.Close()
	}
	if w.pool != nil {
		w.pool.Close()
	}
	if w.ownedListener && w.listenFD > 0 {
		unix.Close(w.listenFD)
		w.listenFD = 0
	}
}

// tick is one loop iteration: drain the pre-submission queue into the
// ring, submit and wait for at least one completion, then dispatch every
// available completion.
func (w *Worker) tick() error {
	for _, e := range w.pre {
		if err := w.ring.Push(e); err != nil {
			return fmt.Errorf("worker %s: %w", w.name, err)
		}
	}
	w.pre = w.pre[:0]

	if _, err := w.ring.SubmitAndWait(1); err != nil {
		return fmt.Errorf("worker %s: %w", w.name, err)
	}

	w.ring.Drain(w.handle)
	return w.fatal
}

// enqueue registers op and buffers its submission entry for the next
// tick. Registry exhaustion is fatal; the error surfaces at the end of the
// current tick.
func (w *Worker) enqueue(op opreg.Op) {
	if w.fatal != nil {
		return
	}
	token, err := w.ops.Put(op)
	if err != nil {
		w.fatal = fmt.Errorf("enqueue %s: %w", op.Kind, err)
		return
	}
	w.pre = append(w.pre, w.entryFor(op, token))
}

func (w *Worker) entryFor(op opreg.Op, token uint64) uring.Entry {
	e := uring.Entry{UserData: token}
	switch op.Kind {
	case opreg.KindAccept:
		e.Kind = uring.EntryAccept
		e.FD = op.FD
	case opreg.KindSocket:
		e.Kind = uring.EntrySocket
		e.Domain = op.Domain
		e.SockType = unix.SOCK_STREAM
		e.Proto = unix.IPPROTO_TCP
	case opreg.KindConnect:
		e.Kind = uring.EntryConnect
		e.FD = op.FD
		e.Addr = op.Addr
		e.Len = op.Len
	case opreg.KindRead:
		e.Kind = uring.EntryRead
		e.FD = op.FD
		e.BufGroup = constants.BufferGroupID
	case opreg.KindWrite:
		e.Kind = uring.EntryWrite
		e.FD = op.FD
		e.Addr = op.Addr
		e.Len = op.Len
	case opreg.KindClose:
		e.Kind = uring.EntryClose
		e.FD = op.FD
	case opreg.KindProvideBuffers:
		e.Kind = uring.EntryProvideBuffers
		e.Addr = op.Addr
		e.Len = op.Len
		e.BufCount = op.Count
		e.BufGroup = constants.BufferGroupID
		e.BufIndex = op.Segment
	}
	return e
}

// handle dispatches one completion to its handler.
func (w *Worker) handle(c uring.CQE) {
	if w.fatal != nil {
		return
	}

	op, ok := w.ops.Get(c.UserData)
	if !ok {
		// Completion for an op that was already released. Close
		// completions can legitimately race bridge removal; anything
		// else indicates the kernel echoed a token we never issued.
		if w.logger != nil {
			w.logger.Debugf("worker %s: completion for released token %d", w.name, c.UserData)
		}
		return
	}
	if !c.More() {
		w.ops.Remove(c.UserData)
	}

	switch op.Kind {
	case opreg.KindAccept:
		if err := w.handleAccept(c); err != nil {
			w.fatal = err
		}
		return
	case opreg.KindProvideBuffers:
		if c.Res < 0 {
			// The pool is permanently degraded; nothing can restore the
			// kernel's available set.
			w.fatal = fmt.Errorf("provide buffers failed: %w", unix.Errno(-c.Res))
		}
		return
	case opreg.KindClose:
		w.handleClose(op, c)
		return
	}

	b, ok := w.bridges.Get(op.BridgeID)
	if !ok {
		return
	}

	var err error
	switch op.Kind {
	case opreg.KindSocket:
		err = w.handleSocket(c, b)
	case opreg.KindConnect:
		err = w.handleConnect(c, b)
	case opreg.KindRead:
		err = w.handleRead(c, op, b)
	case opreg.KindWrite:
		err = w.handleWrite(c, op)
	}

	if err != nil {
		w.teardown(b, err)
	}
}

// handleAccept classifies failures per the accept errno taxonomy and on
// success creates a bridge and starts its upstream socket. A returned
// error aborts the worker.
func (w *Worker) handleAccept(c uring.CQE) error {
	if c.Res < 0 {
		errno := unix.Errno(-c.Res)
		switch errno {
		case unix.ECONNABORTED, unix.EPERM, unix.EINTR, unix.EPROTO:
			// Transient. An error completion may terminate the multishot;
			// re-arm it so the listener never goes quiet.
			w.stats.AcceptRetries.Add(1)
			if !c.More() {
				w.enqueue(opreg.Op{Kind: opreg.KindAccept, FD: w.listenFD})
			}
			if w.logger != nil {
				w.logger.Debugf("worker %s: transient accept error: %v", w.name, errno)
			}
			return nil
		case unix.ENOTSOCK, unix.EBADF, unix.EFAULT, unix.EINVAL,
			unix.EMFILE, unix.ENFILE, unix.EOPNOTSUPP:
			return fmt.Errorf("accept failed: %w", errno)
		default:
			return fmt.Errorf("accept failed with unexpected errno: %w", errno)
		}
	}

	if !c.More() {
		// The multishot accept must keep yielding completions; losing the
		// flag means the kernel dropped our only accept source.
		return fmt.Errorf("multishot accept lost its more flag (res=%d)", c.Res)
	}

	downstream := int(c.Res)
	addr, tgt, err := w.picker.Next()
	if err != nil {
		// Nothing to route to. Close the accepted fd through the ring;
		// the bridge-less close is tolerated by the close handler.
		w.stats.AcceptsRejected.Add(1)
		if w.logger != nil {
			w.logger.Printf("worker %s: rejecting connection: %v", w.name, err)
		}
		w.enqueue(opreg.Op{Kind: opreg.KindClose, BridgeID: -1, FD: downstream})
		return nil
	}

	b := w.bridges.Insert(downstream, addr)
	w.stats.BridgesCreated.Add(1)
	w.stats.ActiveBridges.Add(1)
	if w.observer != nil {
		w.observer.ObserveBridgeCreated(b.ID)
	}

	if slot, ok := w.slots.Acquire(tgt); ok {
		// Upstream reuse is reserved; nothing offers slots yet, so
		// release the claim and connect fresh.
		w.slots.Release(slot)
	}

	w.enqueue(opreg.Op{Kind: opreg.KindSocket, BridgeID: b.ID, Domain: b.Domain()})
	return nil
}

func (w *Worker) handleSocket(c uring.CQE, b *bridge.Bridge) error {
	if c.Res < 0 {
		return fmt.Errorf("socket: %w", unix.Errno(-c.Res))
	}

	b.Upgrade(int(c.Res))
	ptr, l := b.Sockaddr()
	w.enqueue(opreg.Op{
		Kind:     opreg.KindConnect,
		BridgeID: b.ID,
		FD:       b.FD(bridge.Upstream),
		Addr:     ptr,
		Len:      l,
	})
	return nil
}

func (w *Worker) handleConnect(c uring.CQE, b *bridge.Bridge) error {
	if c.Res < 0 {
		return fmt.Errorf("connect %s: %w", b.Addr(), unix.Errno(-c.Res))
	}

	if w.observer != nil {
		w.observer.ObserveBridgeEstablished(b.ID)
	}

	// Arm both halves of the relay.
	w.enqueue(opreg.Op{
		Kind:     opreg.KindRead,
		BridgeID: b.ID,
		Dir:      bridge.Downstream,
		FD:       b.FD(bridge.Downstream),
	})
	w.enqueue(opreg.Op{
		Kind:     opreg.KindRead,
		BridgeID: b.ID,
		Dir:      bridge.Upstream,
		FD:       b.FD(bridge.Upstream),
	})
	return nil
}

// handleRead relays n bytes from op.Dir to the opposite fd. The selected
// segment travels with the write and is returned to the pool only once
// the write fully completes.
func (w *Worker) handleRead(c uring.CQE, op opreg.Op, b *bridge.Bridge) error {
	idx, hasBuffer := c.BufferID()
	if hasBuffer {
		w.stats.SegmentsCheckedOut.Add(1)
	}

	res := c.Res
	if res <= 0 {
		if hasBuffer {
			w.provideOne(idx)
		}
		if res < 0 {
			errno := unix.Errno(-res)
			if errno == unix.ENOBUFS {
				w.stats.ENOBUFSTeardowns.Add(1)
			}
			return fmt.Errorf("read %s: %w", op.Dir, errno)
		}
		return fmt.Errorf("read %s: peer closed", op.Dir)
	}

	if !hasBuffer {
		return fmt.Errorf("read %s: completion carries no buffer", op.Dir)
	}

	// Keep this direction armed while the write is in flight.
	w.enqueue(opreg.Op{
		Kind:     opreg.KindRead,
		BridgeID: b.ID,
		Dir:      op.Dir,
		FD:       b.FD(op.Dir),
	})

	dest := op.Dir.Opposite()
	w.enqueue(opreg.Op{
		Kind:     opreg.KindWrite,
		BridgeID: b.ID,
		Dir:      dest,
		FD:       b.FD(dest),
		Addr:     w.pool.SegmentPtr(idx),
		Len:      uint32(res),
		Segment:  idx,
	})
	return nil
}

// handleWrite resubmits short writes with the advanced pointer and returns
// the carried segment once the last byte is out.
func (w *Worker) handleWrite(c uring.CQE, op opreg.Op) error {
	res := c.Res
	if res <= 0 {
		w.provideOne(op.Segment)
		if res < 0 {
			return fmt.Errorf("write %s: %w", op.Dir, unix.Errno(-res))
		}
		return fmt.Errorf("write %s: %w", op.Dir, unix.EPIPE)
	}

	if uint32(res) < op.Len {
		w.stats.ShortWrites.Add(1)
		op.Addr += uintptr(res)
		op.Len -= uint32(res)
		w.stats.BytesRelayed.Add(uint64(res))
		w.enqueue(op)
		return nil
	}

	w.stats.BytesRelayed.Add(uint64(res))
	w.provideOne(op.Segment)
	return nil
}

// handleClose counts the completion against its bridge; a bridge retires
// once both directions have closed. Close errors are logged, never
// retried, and closes for already-removed bridges are no-ops.
func (w *Worker) handleClose(op opreg.Op, c uring.CQE) {
	if c.Res < 0 && w.logger != nil {
		w.logger.Debugf("worker %s: close %s fd=%d: %v", w.name, op.Dir, op.FD, unix.Errno(-c.Res))
	}

	b, ok := w.bridges.Get(op.BridgeID)
	if !ok {
		return
	}

	b.CloseOne()
	if b.Closed() >= 2 {
		w.bridges.Remove(b.ID)
		w.stats.BridgesRemoved.Add(1)
		w.stats.ActiveBridges.Add(-1)
		if w.observer != nil {
			w.observer.ObserveBridgeClosed(b.ID)
		}
	}
}

// teardown enqueues the close pair for a failed bridge. When the upstream
// socket never came up, its close is accounted directly so the bridge
// still retires at two.
func (w *Worker) teardown(b *bridge.Bridge, cause error) {
	if !b.BeginTeardown() {
		return
	}

	w.stats.Teardowns.Add(1)
	if w.logger != nil {
		w.logger.Debugf("worker %s: tearing down bridge %d: %v", w.name, b.ID, cause)
	}
	if w.observer != nil {
		w.observer.ObserveTeardown(b.ID, cause.Error())
	}

	w.enqueue(opreg.Op{
		Kind:     opreg.KindClose,
		BridgeID: b.ID,
		Dir:      bridge.Downstream,
		FD:       b.FD(bridge.Downstream),
	})
	if b.Stage() == bridge.StageEstablished {
		w.enqueue(opreg.Op{
			Kind:     opreg.KindClose,
			BridgeID: b.ID,
			Dir:      bridge.Upstream,
			FD:       b.FD(bridge.Upstream),
		})
	} else {
		b.CloseOne()
	}
}

// provideOne returns a single segment to the kernel's available set.
func (w *Worker) provideOne(idx uint16) {
	w.stats.SegmentsReturned.Add(1)
	w.enqueue(opreg.Op{
		Kind:    opreg.KindProvideBuffers,
		Addr:    w.pool.SegmentPtr(idx),
		Len:     uint32(w.pool.SegmentLen()),
		Count:   1,
		Segment: idx,
	})
}
