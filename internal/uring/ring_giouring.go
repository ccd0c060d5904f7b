//go:build linux
// +build linux

package uring

import (
	"errors"
	"fmt"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/saiintbrisson/ringlb/internal/logging"
)

// kernelRing implements Ring on top of a real io_uring instance.
type kernelRing struct {
	ring *giouring.Ring
	cqes []*giouring.CompletionQueueEvent
}

// NewRing creates a kernel-backed ring with the given submission queue depth.
func NewRing(entries uint32) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating io_uring", "entries", entries)

	ring, err := giouring.CreateRing(entries)
	if err != nil {
		logger.Error("failed to create io_uring", "error", err)
		return nil, fmt.Errorf("io_uring setup: %w", err)
	}

	return &kernelRing{
		ring: ring,
		cqes: make([]*giouring.CompletionQueueEvent, 256),
	}, nil
}

func (r *kernelRing) Push(e Entry) error {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}

	switch e.Kind {
	case EntryAccept:
		sqe.PrepareMultishotAccept(e.FD, 0, 0, 0)
	case EntrySocket:
		sqe.PrepareSocket(e.Domain, e.SockType, e.Proto, 0)
	case EntryConnect:
		sqe.PrepareConnect(e.FD, e.Addr, uint64(e.Len))
	case EntryRead:
		// Zero buffer: the kernel selects a segment from the provided
		// buffer group and echoes its index back in the CQE flags.
		sqe.PrepareRead(e.FD, 0, 0, 0)
		sqe.Flags |= giouring.SqeBufferSelect
		sqe.BufIG = e.BufGroup
	case EntryWrite:
		sqe.PrepareWrite(e.FD, e.Addr, e.Len, 0)
	case EntryClose:
		sqe.PrepareClose(e.FD)
	case EntryProvideBuffers:
		sqe.PrepareProvideBuffers(e.Addr, int(e.Len), int(e.BufCount), int(e.BufGroup), int(e.BufIndex))
	default:
		return fmt.Errorf("unknown entry kind %d", e.Kind)
	}

	sqe.UserData = e.UserData
	return nil
}

func (r *kernelRing) SubmitAndWait(wait uint32) (int, error) {
	n, err := r.ring.SubmitAndWait(wait)
	if err != nil {
		// The wait is restarted by the worker loop; EINTR is not an error.
		if errors.Is(err, unix.EINTR) {
			return int(n), nil
		}
		return int(n), fmt.Errorf("io_uring submit: %w", err)
	}
	return int(n), nil
}

func (r *kernelRing) Drain(fn func(CQE)) int {
	total := 0
	for {
		n := r.ring.PeekBatchCQE(r.cqes)
		if n == 0 {
			return total
		}
		for _, cqe := range r.cqes[:n] {
			fn(CQE{UserData: cqe.UserData, Res: cqe.Res, Flags: cqe.Flags})
		}
		r.ring.CQAdvance(n)
		total += int(n)
	}
}

func (r *kernelRing) Close() error {
	if r.ring != nil {
		r.ring.QueueExit()
		r.ring = nil
	}
	return nil
}
