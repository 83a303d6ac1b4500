package procpool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestPool_RunBatch_EchoPreservesBytesAndOrder(t *testing.T) {
	requireCommand(t, "cat")
	pool := New(WithMaxProcs(4))

	inputs := make([][]byte, 10)
	for i := range inputs {
		inputs[i] = []byte(fmt.Sprintf("payload-%d\n", i))
	}

	results, err := pool.RunBatch(context.Background(), inputs, "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != len(inputs) {
		t.Fatalf("expected %d results, got %d", len(inputs), len(results))
	}

	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d: index = %d", i, r.Index)
		}
		if !r.Status.Success() {
			t.Errorf("input %d: status = %s", i, r.Status)
		}
		if !bytes.Equal(r.Stdout, inputs[i]) {
			t.Errorf("input %d: stdout = %q, want %q", i, r.Stdout, inputs[i])
		}
		if len(r.Stderr) != 0 {
			t.Errorf("input %d: unexpected stderr %q", i, r.Stderr)
		}
	}
}

func TestPool_RunBatch_EmptyBatch(t *testing.T) {
	spawned := false
	pool := New(WithOnSpawn(func(index, pid int) { spawned = true }))

	results, err := pool.RunBatch(context.Background(), nil, "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
	if spawned {
		t.Error("empty batch spawned a process")
	}
}

func TestPool_RunBatch_ChunkBoundaries(t *testing.T) {
	requireCommand(t, "cat")
	pool := New(WithMaxProcs(2))

	sizes := []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, 65536, 1 << 20}
	inputs := make([][]byte, len(sizes))
	for i, n := range sizes {
		inputs[i] = patternPayload(n)
	}

	results, err := pool.RunBatch(context.Background(), inputs, "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, r := range results {
		if !r.Status.Success() {
			t.Errorf("size %d: status = %s", sizes[i], r.Status)
		}
		if !bytes.Equal(r.Stdout, inputs[i]) {
			t.Errorf("size %d: stdout differs (got %d bytes, want %d)",
				sizes[i], len(r.Stdout), len(inputs[i]))
		}
	}
}

func TestPool_RunBatch_OrderWithScrambledCompletion(t *testing.T) {
	requireCommand(t, "sh")
	pool := New(WithMaxProcs(3))

	// Each child sleeps for the duration it reads, so the first input
	// finishes last. Results must still come back in input order.
	inputs := [][]byte{[]byte("0.3"), []byte("0.2"), []byte("0.1")}
	script := `d=$(cat); sleep "$d"; printf %s "$d"`

	results, err := pool.RunBatch(context.Background(), inputs, "sh", "-c", script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, r := range results {
		if !bytes.Equal(r.Stdout, inputs[i]) {
			t.Errorf("input %d: stdout = %q, want %q", i, r.Stdout, inputs[i])
		}
	}
}

func TestPool_RunBatch_StderrCapture(t *testing.T) {
	requireCommand(t, "sh")
	pool := New()

	inputs := [][]byte{[]byte("to stderr, with love")}
	results, err := pool.RunBatch(context.Background(), inputs, "sh", "-c", "cat >&2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(results[0].Stderr, inputs[0]) {
		t.Errorf("stderr = %q, want %q", results[0].Stderr, inputs[0])
	}
	if len(results[0].Stdout) != 0 {
		t.Errorf("unexpected stdout %q", results[0].Stdout)
	}
}

func TestPool_RunBatch_NonZeroExit(t *testing.T) {
	requireCommand(t, "sh")
	pool := New()

	results, err := pool.RunBatch(context.Background(),
		[][]byte{[]byte("ignored")}, "sh", "-c", "cat >/dev/null; exit 7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ExitStatus{Cause: Exited, Code: 7}
	if results[0].Status != want {
		t.Errorf("status = %s, want %s", results[0].Status, want)
	}
}

func TestPool_RunBatch_SignaledChild(t *testing.T) {
	requireCommand(t, "sh")
	pool := New()

	results, err := pool.RunBatch(context.Background(),
		[][]byte{nil}, "sh", "-c", "kill -KILL $$")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ExitStatus{Cause: Signaled, Code: 9}
	if results[0].Status != want {
		t.Errorf("status = %s, want %s", results[0].Status, want)
	}
}

func TestPool_RunBatch_CommandNotFound(t *testing.T) {
	pool := New(WithMaxProcs(2))

	inputs := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	results, err := pool.RunBatch(context.Background(), inputs,
		"procpool-no-such-command")
	if err != nil {
		t.Fatalf("exec failure must not fail the run: %v", err)
	}

	for i, r := range results {
		want := ExitStatus{Cause: Exited, Code: execFailureCode}
		if r.Status != want {
			t.Errorf("input %d: status = %s, want %s", i, r.Status, want)
		}
		if len(r.Stdout) != 0 || len(r.Stderr) != 0 {
			t.Errorf("input %d: unexpected output", i)
		}
	}
}

func TestPool_RunBatch_ConcurrencyBound(t *testing.T) {
	requireCommand(t, "sh")

	const width = 3
	// Hooks run on the scheduler goroutine, so plain ints suffice.
	live, maxLive := 0, 0
	pool := New(
		WithMaxProcs(width),
		WithOnSpawn(func(index, pid int) {
			live++
			if live > maxLive {
				maxLive = live
			}
		}),
		WithOnExit(func(index int, status ExitStatus) { live-- }),
	)

	inputs := make([][]byte, 12)
	for i := range inputs {
		inputs[i] = []byte("x")
	}

	_, err := pool.RunBatch(context.Background(), inputs, "sh", "-c", "sleep 0.05; cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if live != 0 {
		t.Errorf("%d children still live after run", live)
	}
	if maxLive > width {
		t.Errorf("observed %d live children, bound is %d", maxLive, width)
	}
	if maxLive < 2 {
		t.Errorf("pool never ran children concurrently (max live %d)", maxLive)
	}
}

func TestPool_RunBatch_TeeSideEffect(t *testing.T) {
	requireCommand(t, "tee")

	out := filepath.Join(t.TempDir(), "out.txt")
	pool := New(WithMaxProcs(1))

	// Payloads straddle the typical 65536-byte pipe capacity.
	inputs := [][]byte{repeatByte('a', 65536), repeatByte('a', 65537)}

	results, err := pool.RunBatch(context.Background(), inputs, "tee", out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, r := range results {
		if !r.Status.Success() {
			t.Errorf("input %d: status = %s", i, r.Status)
		}
		if !bytes.Equal(r.Stdout, inputs[i]) {
			t.Errorf("input %d: stdout %d bytes, want %d", i, len(r.Stdout), len(inputs[i]))
		}
	}

	// tee truncates per run; the file holds the bytes of the last input.
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read side-effect file: %v", err)
	}
	if !bytes.Equal(got, inputs[1]) {
		t.Errorf("side-effect file holds %d bytes, want %d", len(got), len(inputs[1]))
	}
}

func TestPool_RunBatch_NoDescriptorLeak(t *testing.T) {
	requireCommand(t, "cat")
	pool := New(WithMaxProcs(4))

	inputs := make([][]byte, 8)
	for i := range inputs {
		inputs[i] = patternPayload(1000 * (i + 1))
	}

	// Warm-up run so lazily created runtime descriptors do not skew the
	// before/after comparison.
	if _, err := pool.RunBatch(context.Background(), inputs, "cat"); err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	before := openFDCount(t)
	for range 3 {
		if _, err := pool.RunBatch(context.Background(), inputs, "cat"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	after := openFDCount(t)

	if after > before {
		t.Errorf("descriptor count grew from %d to %d", before, after)
	}
}

func TestPool_RunSingle(t *testing.T) {
	requireCommand(t, "cat")
	pool := New()

	payload := patternPayload(100000)
	result, err := pool.RunSingle(context.Background(), payload, "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Status.Success() {
		t.Errorf("status = %s", result.Status)
	}
	if !bytes.Equal(result.Stdout, payload) {
		t.Errorf("stdout differs: got %d bytes, want %d", len(result.Stdout), len(payload))
	}
}

func TestPool_ConcurrentRunBatches(t *testing.T) {
	requireCommand(t, "cat")

	// A Pool holds configuration only; concurrent runs must not interfere.
	pool := New(WithMaxProcs(2))

	var g errgroup.Group
	for run := range 4 {
		g.Go(func() error {
			inputs := [][]byte{
				[]byte(fmt.Sprintf("run-%d-first", run)),
				[]byte(fmt.Sprintf("run-%d-second", run)),
			}
			results, err := pool.RunBatch(context.Background(), inputs, "cat")
			if err != nil {
				return err
			}
			for i, r := range results {
				if !bytes.Equal(r.Stdout, inputs[i]) {
					return fmt.Errorf("run %d input %d: stdout = %q", run, i, r.Stdout)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestPool_WithSpawnRate(t *testing.T) {
	requireCommand(t, "cat")

	var spawnTimes []time.Time
	pool := New(
		WithMaxProcs(4),
		WithSpawnRate(50, 1),
		WithOnSpawn(func(index, pid int) { spawnTimes = append(spawnTimes, time.Now()) }),
	)

	inputs := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	if _, err := pool.RunBatch(context.Background(), inputs, "cat"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(spawnTimes) != len(inputs) {
		t.Fatalf("expected %d spawns, got %d", len(inputs), len(spawnTimes))
	}

	// 4 spawns at 50/sec with burst 1 must spread over at least ~60ms;
	// allow generous slack for scheduler jitter.
	spread := spawnTimes[len(spawnTimes)-1].Sub(spawnTimes[0])
	if spread < 40*time.Millisecond {
		t.Errorf("spawns spread over %v, expected pacing of at least 40ms", spread)
	}
}

func TestExitStatus(t *testing.T) {
	ok := ExitStatus{Cause: Exited, Code: 0}
	if !ok.Success() {
		t.Error("exited(0) should be success")
	}
	if got := ok.String(); got != "exited(0)" {
		t.Errorf("String() = %q", got)
	}

	sig := ExitStatus{Cause: Signaled, Code: 15}
	if sig.Success() {
		t.Error("signaled(15) should not be success")
	}
	if got := sig.String(); got != "signaled(15)" {
		t.Errorf("String() = %q", got)
	}
}
