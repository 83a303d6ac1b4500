package procpool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"syscall"
)

// execFailureCode is the status reported for an input whose child could
// not load its program image (command not found, not executable). The
// shell convention for "command not found".
const execFailureCode = 127

// Child is a spawned filter process together with the parent-side ends of
// its three pipes. The child-side ends are closed in the parent before
// Spawn returns, so end-of-stream on Stdout/Stderr reliably tracks the
// child closing (or exiting).
type Child struct {
	Pid    int
	Stdin  *os.File // write end of the child's standard input
	Stdout *os.File // read end of the child's standard output
	Stderr *os.File // read end of the child's standard error

	cmd *exec.Cmd
}

// Spawn starts command with args, its standard input, output and error
// each redirected onto a dedicated pipe. The returned Child holds the
// parent-side pipe ends in blocking mode; the caller owns them and must
// close all three before calling Wait.
func Spawn(command string, args ...string) (*Child, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW)
		return nil, &SpawnError{Command: command, Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW)
		return nil, &SpawnError{Command: command, Err: err}
	}

	cmd := exec.Command(command, args...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()

	// The child holds duplicates of its ends now (or never started);
	// either way the parent's copies of the child side must go, or
	// end-of-stream on stdout/stderr would never arrive.
	closeFiles(stdinR, stdoutW, stderrW)

	if startErr != nil {
		closeFiles(stdinW, stdoutR, stderrR)
		return nil, &SpawnError{Command: command, Err: startErr}
	}

	return &Child{
		Pid:    cmd.Process.Pid,
		Stdin:  stdinW,
		Stdout: stdoutR,
		Stderr: stderrR,
		cmd:    cmd,
	}, nil
}

// Wait blocks until the child terminates and returns its exit status.
// Only safe once all three pipe ends are closed: a child blocked writing
// into a full pipe never terminates.
func (c *Child) Wait() (ExitStatus, error) {
	err := c.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ExitStatus{}, fmt.Errorf("wait for pid %d: %w", c.Pid, err)
		}
	}

	ws, ok := c.cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{}, fmt.Errorf("wait for pid %d: unsupported wait status %T", c.Pid, c.cmd.ProcessState.Sys())
	}
	return statusFromWait(ws), nil
}

// Kill forcibly terminates the child. Used only when aborting a run.
func (c *Child) Kill() error {
	return c.cmd.Process.Kill()
}

func statusFromWait(ws syscall.WaitStatus) ExitStatus {
	switch {
	case ws.Signaled():
		return ExitStatus{Cause: Signaled, Code: int(ws.Signal())}
	case ws.Stopped():
		return ExitStatus{Cause: Stopped, Code: int(ws.StopSignal())}
	default:
		return ExitStatus{Cause: Exited, Code: ws.ExitStatus()}
	}
}

// isExecFailure reports whether a spawn error means the child's program
// image could not be loaded, as opposed to pipe or process-table
// exhaustion. Image failures are a per-input outcome (execFailureCode),
// not a run failure.
func isExecFailure(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.ENOEXEC)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
