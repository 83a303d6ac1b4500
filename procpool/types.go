package procpool

import "fmt"

// TerminationCause reports how a child process ended.
type TerminationCause int

const (
	// Exited means the process terminated normally; Code is its exit code.
	Exited TerminationCause = iota
	// Signaled means the process was killed by a signal; Code is the
	// signal number.
	Signaled
	// Stopped means the process was stopped by a signal; Code is the
	// signal number.
	Stopped
)

// String returns a short name for the termination cause.
func (c TerminationCause) String() string {
	switch c {
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ExitStatus is the (cause, code) pair retrieved when a child is reaped.
type ExitStatus struct {
	Cause TerminationCause
	Code  int
}

// Success reports whether the process exited normally with code zero.
func (s ExitStatus) Success() bool {
	return s.Cause == Exited && s.Code == 0
}

// String renders the status as "exited(0)", "signaled(9)", etc.
func (s ExitStatus) String() string {
	return fmt.Sprintf("%s(%d)", s.Cause, s.Code)
}

// Result is the outcome of running one input through the filter command.
// A RunBatch call returns one Result per input, in input order, regardless
// of the order in which the children completed.
//
// Fields:
//   - Status: the child's exit status, recorded at reap time
//   - Stdout: everything the child wrote to standard output
//   - Stderr: everything the child wrote to standard error
//   - Index: the original position of the input in the batch
type Result struct {
	Status ExitStatus
	Stdout []byte
	Stderr []byte
	Index  int
}
