package procpool

import (
	"bytes"
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// chunkSize is the unit of pipe I/O: large enough to amortize syscalls,
// well under common OS pipe-capacity ceilings (typically 65536) so one
// slow consumer never monopolizes a readiness cycle.
const chunkSize = 8192

type stream int

const (
	streamStdin stream = iota
	streamStdout
	streamStderr
)

func (s stream) String() string {
	switch s {
	case streamStdin:
		return "stdin"
	case streamStdout:
		return "stdout"
	default:
		return "stderr"
	}
}

// pipeFD is one parent-side pipe end switched to non-blocking mode for
// the readiness loop.
type pipeFD struct {
	file *os.File
	fd   int
}

func newPipeFD(f *os.File) (*pipeFD, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &pipeFD{file: f, fd: fd}, nil
}

// procHandle is the per-child bookkeeping record: the spawned process,
// its three pipe descriptors (nil once closed), write progress into its
// payload, and the output accumulated so far.
type procHandle struct {
	child      *Child
	batchIndex int

	payload     []byte
	inputCursor int

	stdin  *pipeFD
	stdout *pipeFD
	stderr *pipeFD

	stdoutChunks [][]byte
	stderrChunks [][]byte
}

func newHandle(child *Child, index int, payload []byte) (*procHandle, error) {
	h := &procHandle{child: child, batchIndex: index, payload: payload}

	var err error
	if h.stdin, err = newPipeFD(child.Stdin); err != nil {
		return nil, err
	}
	if h.stdout, err = newPipeFD(child.Stdout); err != nil {
		return nil, err
	}
	if h.stderr, err = newPipeFD(child.Stderr); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *procHandle) pipe(s stream) *pipeFD {
	switch s {
	case streamStdin:
		return h.stdin
	case streamStdout:
		return h.stdout
	default:
		return h.stderr
	}
}

func (h *procHandle) clear(s stream) {
	switch s {
	case streamStdin:
		h.stdin = nil
	case streamStdout:
		h.stdout = nil
	default:
		h.stderr = nil
	}
}

// drained reports whether all three descriptors are closed. Only a
// drained handle may be reaped: a child blocked on pipe I/O with this
// parent cannot terminate.
func (h *procHandle) drained() bool {
	return h.stdin == nil && h.stdout == nil && h.stderr == nil
}

// writeChunk writes up to chunkSize bytes of the remaining payload to the
// child's stdin, tolerating partial writes. It reports done=true when the
// descriptor should be closed: either the payload is fully written, or
// the child stopped reading (EPIPE). Feeding a gone reader is pointless,
// and holding stdin open past the payload can stall the child forever.
func (h *procHandle) writeChunk() (done bool, err error) {
	rest := h.payload[h.inputCursor:]
	if len(rest) > chunkSize {
		rest = rest[:chunkSize]
	}

	n, err := unix.Write(h.stdin.fd, rest)
	if n > 0 {
		h.inputCursor += n
	}

	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return false, nil
	case errors.Is(err, unix.EPIPE):
		return true, nil
	case err != nil:
		return false, &IOError{Op: "write stdin", Index: h.batchIndex, Err: err}
	}
	return h.inputCursor == len(h.payload), nil
}

// readChunk reads up to chunkSize bytes from the child's stdout or stderr
// and appends the chunk to the matching buffer. It reports eof=true on a
// zero-length read, meaning the child side is closed and the descriptor
// can go.
func (h *procHandle) readChunk(s stream) (eof bool, err error) {
	buf := make([]byte, chunkSize)
	n, err := unix.Read(h.pipe(s).fd, buf)
	if n > 0 {
		if s == streamStdout {
			h.stdoutChunks = append(h.stdoutChunks, buf[:n])
		} else {
			h.stderrChunks = append(h.stderrChunks, buf[:n])
		}
	}

	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return false, nil
	case err != nil:
		return false, &IOError{Op: "read " + s.String(), Index: h.batchIndex, Err: err}
	}
	return n == 0, nil
}

func (h *procHandle) stdoutBytes() []byte {
	return bytes.Join(h.stdoutChunks, nil)
}

func (h *procHandle) stderrBytes() []byte {
	return bytes.Join(h.stderrChunks, nil)
}

// closeAll closes whatever descriptors remain open. Abort path only; the
// scheduler closes descriptors one by one as they drain.
func (h *procHandle) closeAll() {
	for _, s := range []stream{streamStdin, streamStdout, streamStderr} {
		if pf := h.pipe(s); pf != nil {
			_ = pf.file.Close()
			h.clear(s)
		}
	}
}
