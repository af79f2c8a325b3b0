package transport

import "sync"

// Loop serializes callbacks. The zero value is ready to use.
//
// Do is not reentrant: a function running under Do must not call Do on the same Loop.
type Loop struct {
	mu sync.Mutex
}

// Do runs fn while holding the loop.
func (l *Loop) Do(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}
