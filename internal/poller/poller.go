//go:build linux || darwin

// Package poller wraps the poll(2) readiness primitive behind a small
// event API. Callers declare interest in a set of descriptors (read or
// write side) and receive one classified event per actionable descriptor.
//
// The wait is unbounded: with at least one live pipe descriptor in the
// set, some descriptor is always guaranteed to eventually become ready
// or hang up, so no timeout is needed or taken.
package poller

import (
	"golang.org/x/sys/unix"
)

// Kind classifies a readiness event on a single descriptor.
type Kind int

const (
	// Readable means data can be read without blocking.
	Readable Kind = iota
	// Writable means some amount of data can be written without blocking.
	Writable
	// HangUp means the remote end closed; no data is pending.
	HangUp
	// ErrClosed means the kernel flagged an error condition on the
	// descriptor. For a pipe write end this is the reader going away.
	ErrClosed
	// Invalid means the descriptor is not open. Seeing this indicates
	// an interest-set bookkeeping bug in the caller.
	Invalid
)

// String returns a short name for the event kind.
func (k Kind) String() string {
	switch k {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case HangUp:
		return "hangup"
	case ErrClosed:
		return "error"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Interest registers one descriptor for readiness notification.
// Write selects write-side interest; otherwise the descriptor is
// watched for read-side readiness.
type Interest struct {
	FD    int
	Write bool
}

// Event reports one actionable descriptor from a Wait call.
type Event struct {
	FD   int
	Kind Kind
}

// Wait blocks until at least one registered descriptor is actionable and
// returns a classified event per such descriptor. Interrupted waits are
// retried transparently.
//
// Classification order matters: a descriptor can report data pending and
// hang-up at once (writer closed with bytes still buffered), and it must
// surface as Readable so the caller drains it before closing.
func Wait(interests []Interest) ([]Event, error) {
	fds := make([]unix.PollFd, len(interests))
	for i, in := range interests {
		ev := int16(unix.POLLIN)
		if in.Write {
			ev = unix.POLLOUT
		}
		fds[i] = unix.PollFd{Fd: int32(in.FD), Events: ev}
	}

	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n > 0 {
			break
		}
	}

	events := make([]Event, 0, len(fds))
	for _, fd := range fds {
		if fd.Revents == 0 {
			continue
		}
		events = append(events, Event{FD: int(fd.Fd), Kind: classify(fd.Revents)})
	}
	return events, nil
}

func classify(revents int16) Kind {
	switch {
	case revents&unix.POLLNVAL != 0:
		return Invalid
	case revents&unix.POLLIN != 0:
		return Readable
	case revents&unix.POLLOUT != 0:
		return Writable
	case revents&unix.POLLHUP != 0:
		return HangUp
	case revents&unix.POLLERR != 0:
		return ErrClosed
	default:
		return Invalid
	}
}
