package procpool

import (
	"runtime"

	"golang.org/x/time/rate"
)

// Option is a functional option for configuring a Pool.
type Option func(*config)

type config struct {
	maxProcs int
	limiter  *rate.Limiter
	onSpawn  func(index, pid int)
	onExit   func(index int, status ExitStatus)
}

func defaultConfig() config {
	return config{maxProcs: runtime.GOMAXPROCS(0)}
}

// WithMaxProcs caps the number of children that may be live (spawned and
// not yet reaped) at once. If not specified, defaults to
// runtime.GOMAXPROCS(0).
func WithMaxProcs(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxProcs = n
		}
	}
}

// WithSpawnRate paces admission of new children. spawnsPerSecond caps how
// many children are started per second, burst how many may start back to
// back. Useful when the filter command hits an external service on
// startup. If not specified, admission is not paced.
func WithSpawnRate(spawnsPerSecond float64, burst int) Option {
	return func(cfg *config) {
		if spawnsPerSecond > 0 && burst > 0 {
			cfg.limiter = rate.NewLimiter(rate.Limit(spawnsPerSecond), burst)
		}
	}
}

// WithOnSpawn registers a hook invoked right after a child is started,
// with the input's batch index and the child's pid. The hook runs on the
// scheduler goroutine and must not block.
func WithOnSpawn(hook func(index, pid int)) Option {
	return func(cfg *config) {
		cfg.onSpawn = hook
	}
}

// WithOnExit registers a hook invoked right after a child is reaped, with
// the input's batch index and its exit status. The hook runs on the
// scheduler goroutine and must not block.
func WithOnExit(hook func(index int, status ExitStatus)) Option {
	return func(cfg *config) {
		cfg.onExit = hook
	}
}
