package tick

import (
	"runtime"
	"sync"
)

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide pool, creating it on first use with one
// worker more than GOMAXPROCS.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = NewPool(WithWorkers(runtime.GOMAXPROCS(0) + 1))
	})
	return defaultPool
}
