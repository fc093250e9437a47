package mm

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a test-and-set lock. Heap critical sections are a handful of
// header reads and writes, so spinning beats parking.
type spinLock struct {
	v atomic.Uint32
}

func (l *spinLock) acquire() {
	for !l.v.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) release() {
	l.v.Store(0)
}
