package procpool

import (
	"context"
	"fmt"
	"os"

	"github.com/utkarsh5026/procpool/internal/poller"
)

// fdRef locates the handle and stream owning an active descriptor.
type fdRef struct {
	h *procHandle
	s stream
}

// scheduler drives one RunBatch invocation. It is a single-goroutine
// readiness loop: admission spawns children up to maxProcs, the pump
// interleaves stdin writes and stdout/stderr reads across every live
// child, and reaping waits on children only after all their pipes have
// drained. Interleaving is what keeps the run deadlock-free: a child
// that fills its stdout pipe before consuming its stdin must find the
// parent reading, never blocked mid-write.
//
// All state is owned by the calling goroutine and scoped to one run, so
// no locking is involved anywhere.
type scheduler struct {
	cfg     *config
	command string
	args    []string
	inputs  [][]byte

	results []Result

	live map[int]*procHandle // pid -> handle, spawned and not yet reaped
	byFD map[int]fdRef       // active parent-side descriptor -> owner

	dispatched  int
	completed   int
	pendingReap []int

	cancelFD int
}

func runScheduler(ctx context.Context, cfg *config, inputs [][]byte, command string, args []string) ([]Result, error) {
	s := &scheduler{
		cfg:     cfg,
		command: command,
		args:    args,
		inputs:  inputs,
		results: make([]Result, len(inputs)),
		live:    make(map[int]*procHandle),
		byFD:    make(map[int]fdRef),
	}

	// Cancellation rides the readiness loop as one extra descriptor:
	// when ctx is done the watcher closes the write end, which wakes the
	// poll with a hang-up on the read end. The wait itself stays
	// unbounded.
	cancelR, cancelW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = cancelW.Close() })
	defer func() {
		if stop() {
			_ = cancelW.Close()
		}
		_ = cancelR.Close()
	}()
	s.cancelFD = int(cancelR.Fd())

	if err := s.run(ctx); err != nil {
		s.abort()
		return nil, err
	}
	return s.results, nil
}

func (s *scheduler) run(ctx context.Context) error {
	for s.completed < len(s.inputs) {
		if err := s.admit(ctx); err != nil {
			return err
		}
		if err := s.pump(ctx); err != nil {
			return err
		}
		if err := s.reapPending(); err != nil {
			return err
		}
	}
	return s.checkBalanced()
}

// admit spawns a child per unassigned input while capacity remains.
// Handles are created lazily, never all N at once.
func (s *scheduler) admit(ctx context.Context) error {
	for len(s.live) < s.cfg.maxProcs && s.dispatched < len(s.inputs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.cfg.limiter != nil {
			if err := s.cfg.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		index := s.dispatched
		child, err := Spawn(s.command, s.args...)
		if err != nil {
			if isExecFailure(err) {
				// Image load failed. A per-input outcome, reported
				// through the status channel like a shell would report
				// command-not-found.
				s.results[index] = Result{
					Index:  index,
					Status: ExitStatus{Cause: Exited, Code: execFailureCode},
				}
				s.dispatched++
				s.completed++
				if s.cfg.onExit != nil {
					s.cfg.onExit(index, s.results[index].Status)
				}
				continue
			}
			return err
		}

		h, err := newHandle(child, index, s.inputs[index])
		if err != nil {
			closeFiles(child.Stdin, child.Stdout, child.Stderr)
			_ = child.Kill()
			_, _ = child.Wait()
			return &SpawnError{Command: s.command, Err: err}
		}

		s.dispatched++
		s.live[child.Pid] = h
		s.track(h)
		debugLog("spawned pid=%d index=%d payload=%d bytes", child.Pid, index, len(h.payload))

		// Nothing to write for an empty payload; close stdin right away
		// so the child sees end-of-input immediately.
		if len(h.payload) == 0 {
			s.closeStream(h, streamStdin)
		}

		if s.cfg.onSpawn != nil {
			s.cfg.onSpawn(index, child.Pid)
		}
	}
	return nil
}

// pump blocks on readiness notification and moves bytes until at least
// one child has fully drained, or no tracked descriptors remain.
func (s *scheduler) pump(ctx context.Context) error {
	for len(s.pendingReap) == 0 {
		if len(s.byFD) == 0 {
			return nil
		}

		interests := make([]poller.Interest, 0, len(s.byFD)+1)
		for fd, ref := range s.byFD {
			interests = append(interests, poller.Interest{FD: fd, Write: ref.s == streamStdin})
		}
		interests = append(interests, poller.Interest{FD: s.cancelFD})

		events, err := poller.Wait(interests)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		for _, ev := range events {
			if ev.FD == s.cancelFD {
				return ctx.Err()
			}
			ref, ok := s.byFD[ev.FD]
			if !ok {
				// Closed while handling an earlier event of this batch.
				continue
			}
			if err := s.dispatch(ev, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *scheduler) dispatch(ev poller.Event, ref fdRef) error {
	switch ev.Kind {
	case poller.Readable:
		eof, err := ref.h.readChunk(ref.s)
		if err != nil {
			return err
		}
		if eof {
			s.closeStream(ref.h, ref.s)
		}

	case poller.Writable:
		done, err := ref.h.writeChunk()
		if err != nil {
			return err
		}
		if done {
			s.closeStream(ref.h, ref.s)
		}

	case poller.HangUp:
		s.closeStream(ref.h, ref.s)

	case poller.ErrClosed:
		// Only the write side reports this legitimately: the child
		// closed its end of stdin (or exited) without consuming the
		// rest of the payload. Anywhere else it is a bookkeeping bug.
		if ref.s != streamStdin {
			return fmt.Errorf("%s of input %d: %w", ref.s, ref.h.batchIndex, ErrPollInvariant)
		}
		s.closeStream(ref.h, ref.s)

	default:
		return fmt.Errorf("%s of input %d (fd %d, %s): %w",
			ref.s, ref.h.batchIndex, ev.FD, ev.Kind, ErrPollInvariant)
	}
	return nil
}

// reapPending waits on every fully drained child, records its result at
// its batch index, and frees its capacity slot.
func (s *scheduler) reapPending() error {
	for _, pid := range s.pendingReap {
		h, ok := s.live[pid]
		if !ok {
			return fmt.Errorf("reap pid %d: no live handle: %w", pid, ErrNotDrained)
		}
		if !h.drained() {
			return fmt.Errorf("reap pid %d: %w", pid, ErrNotDrained)
		}

		status, err := h.child.Wait()
		if err != nil {
			return err
		}

		s.results[h.batchIndex] = Result{
			Index:  h.batchIndex,
			Status: status,
			Stdout: h.stdoutBytes(),
			Stderr: h.stderrBytes(),
		}
		delete(s.live, pid)
		s.completed++
		debugLog("reaped pid=%d index=%d status=%s", pid, h.batchIndex, status)

		if s.cfg.onExit != nil {
			s.cfg.onExit(h.batchIndex, status)
		}
	}
	s.pendingReap = s.pendingReap[:0]
	return nil
}

func (s *scheduler) track(h *procHandle) {
	for _, st := range []stream{streamStdin, streamStdout, streamStderr} {
		if pf := h.pipe(st); pf != nil {
			s.byFD[pf.fd] = fdRef{h: h, s: st}
		}
	}
}

// closeStream closes one descriptor exactly once, dropping it from the
// interest set. A handle whose last descriptor closes becomes eligible
// for reaping.
func (s *scheduler) closeStream(h *procHandle, st stream) {
	pf := h.pipe(st)
	if pf == nil {
		return
	}
	delete(s.byFD, pf.fd)
	_ = pf.file.Close()
	h.clear(st)

	if h.drained() {
		s.pendingReap = append(s.pendingReap, h.child.Pid)
	}
}

func (s *scheduler) checkBalanced() error {
	if s.dispatched != len(s.inputs) || s.completed != len(s.inputs) ||
		len(s.live) != 0 || len(s.byFD) != 0 {
		return fmt.Errorf("scheduler finished unbalanced: dispatched=%d completed=%d live=%d tracked=%d of %d inputs",
			s.dispatched, s.completed, len(s.live), len(s.byFD), len(s.inputs))
	}
	return nil
}

// abort kills and reaps whatever is still live so a fatal error or a
// cancelled context leaves no children and no open descriptors behind.
func (s *scheduler) abort() {
	for pid, h := range s.live {
		h.closeAll()
		_ = h.child.Kill()
		_, _ = h.child.Wait()
		delete(s.live, pid)
	}
	s.byFD = make(map[int]fdRef)
}
