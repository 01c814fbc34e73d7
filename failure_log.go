package stencil

import (
	"sync"
	"time"
)

// ReloadFailure records one failed reload attempt.
type ReloadFailure struct {
	// Stage names where the attempt failed: "decode", "validate",
	// "build", or "apply".
	Stage string

	// Err is the failure itself.
	Err error

	// At is the clock time the failure was recorded.
	At time.Time
}

// failureLog is a thread-safe ring buffer of recent reload failures.
type failureLog struct {
	mu       sync.RWMutex
	failures []ReloadFailure
	size     int
	head     int
	count    int
}

// newFailureLog creates a failure ring with the given capacity.
// If size is 0, the log is disabled.
func newFailureLog(size int) *failureLog {
	if size <= 0 {
		return nil
	}
	return &failureLog{
		failures: make([]ReloadFailure, size),
		size:     size,
	}
}

// push adds a failure to the ring, evicting the oldest when full.
func (l *failureLog) push(f ReloadFailure) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[l.head] = f
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}
}

// clear removes all failures from the ring.
func (l *failureLog) clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.failures {
		l.failures[i] = ReloadFailure{}
	}
	l.head = 0
	l.count = 0
}

// all returns the recorded failures, oldest first.
func (l *failureLog) all() []ReloadFailure {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.count == 0 {
		return nil
	}

	result := make([]ReloadFailure, l.count)
	start := (l.head - l.count + l.size) % l.size
	for i := 0; i < l.count; i++ {
		result[i] = l.failures[(start+i)%l.size]
	}
	return result
}
