// Package procpool runs a bounded number of instances of the same
// external filter command concurrently, feeding each instance a distinct
// payload over its standard input and collecting its standard output,
// standard error and exit status, in input order, without deadlocking on
// full OS pipe buffers.
//
// The primary type is Pool, configured with functional options and driven
// by a single readiness-based event loop per run: one goroutine
// multiplexes stdin writes, stdout/stderr reads and hang-up detection
// across every live child via poll(2), and waits on a child only once all
// three of its pipes have drained. True parallelism comes from the OS
// scheduling up to maxProcs children, not from goroutines.
//
// # Basic Usage
//
//	ctx := context.Background()
//	inputs := [][]byte{payloadA, payloadB, payloadC}
//	pool := procpool.New(procpool.WithMaxProcs(4))
//	results, err := pool.RunBatch(ctx, inputs, "gzip", "-c")
//	// results[i].Stdout holds the compressed form of inputs[i]
//
// # Single Input
//
// RunSingle is the one-element convenience form at width one:
//
//	result, err := pool.RunSingle(ctx, payload, "wc", "-c")
//
// # Hooks
//
// Spawn and exit hooks observe the run without touching its state, e.g.
// for progress reporting:
//
//	pool := procpool.New(
//	    procpool.WithMaxProcs(8),
//	    procpool.WithOnExit(func(index int, status procpool.ExitStatus) {
//	        bar.Add(1)
//	    }),
//	)
//
// # Spawn Pacing
//
// WithSpawnRate caps how fast new children are admitted, useful when the
// filter hits an external service on startup:
//
//	pool := procpool.New(procpool.WithSpawnRate(20, 5)) // 20/sec, burst 5
//
// # Failure Model
//
// The pool is deliberately fail-fast: pipe or process creation failure,
// an I/O syscall failure, or an unaccountable readiness notification
// aborts the whole run with no partial results, and nothing is ever
// retried. The single per-input failure mode is the child's program image
// failing to load (command not found), which is reported as that input's
// exit status 127. A run holds every child's full output in memory until
// it returns; there is no cap and no streaming delivery.
package procpool
