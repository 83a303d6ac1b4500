package procpool

import "context"

// Pool runs batches of inputs through an external filter command with a
// bounded number of concurrent children. A Pool holds only configuration:
// every run owns its state, so a single Pool is safe for concurrent use
// from multiple goroutines.
type Pool struct {
	cfg config
}

// New creates a pool with the given options.
// Default configuration: maxProcs = GOMAXPROCS, no spawn pacing, no hooks.
func New(opts ...Option) *Pool {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pool{cfg: cfg}
}

// RunBatch feeds each input to its own instance of command over stdin and
// collects stdout, stderr and exit status, running at most maxProcs
// children at a time. Results come back in input order regardless of
// completion order: results[i] belongs to inputs[i].
//
// The whole run fails (no partial results) on spawn failure, on an I/O
// syscall failure, on an unclassifiable readiness event, or when ctx is
// cancelled, in which case remaining children are killed and reaped
// before returning. The one per-input failure is the child's program
// image failing to load, which surfaces as that input's status
// (exited, 127), not as an error.
//
// Outputs are buffered fully in memory; there is no cap on how much a
// child may write before exiting.
func (p *Pool) RunBatch(ctx context.Context, inputs [][]byte, command string, args ...string) ([]Result, error) {
	if len(inputs) == 0 {
		return []Result{}, nil
	}

	cfg := p.cfg
	return runScheduler(ctx, &cfg, inputs, command, args)
}

// RunSingle runs one input through command at width one. Equivalent to a
// one-element RunBatch, unwrapped.
func (p *Pool) RunSingle(ctx context.Context, input []byte, command string, args ...string) (Result, error) {
	cfg := p.cfg
	cfg.maxProcs = 1

	results, err := runScheduler(ctx, &cfg, [][]byte{input}, command, args)
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}
