package procpool

import (
	"errors"
	"fmt"
)

var (
	// ErrPollInvariant reports a readiness notification that the
	// scheduler's interest-set bookkeeping cannot account for. It signals
	// a logic error, not a transient condition, and aborts the run.
	ErrPollInvariant = errors.New("unexpected readiness notification")

	// ErrNotDrained reports a reap attempted while some of the child's
	// pipe descriptors were still open. It signals a scheduler bug.
	ErrNotDrained = errors.New("reaping a process whose pipes are not drained")
)

// SpawnError reports a failure to create the pipes or the process for one
// child. Spawn failures are fatal for the whole run: no partial results
// are returned and nothing is retried.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IOError reports a read or write syscall failure on an active pipe
// descriptor. Like spawn failures these are fatal for the run; the only
// tolerated write failure is EPIPE, which closes the descriptor instead
// (see the scheduler notes on early-exiting consumers).
type IOError struct {
	Op    string // "read stdout", "read stderr" or "write stdin"
	Index int    // batch index of the affected input
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s for input %d: %v", e.Op, e.Index, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
