package procpool

import (
	"bytes"
	"os"
	"os/exec"
	"testing"
)

// requireCommand skips the test when an external command the scenario
// depends on is not installed.
func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("command %q not available: %v", name, err)
	}
}

// openFDCount returns the number of descriptors the process holds open.
// Linux-only (procfs); tests that need it skip elsewhere.
func openFDCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot enumerate descriptors: %v", err)
	}
	return len(entries)
}

// repeatByte builds an n-byte payload of the given byte.
func repeatByte(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

// patternPayload builds an n-byte payload with position-dependent content
// so off-by-one chunking bugs shift bytes visibly.
func patternPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}
