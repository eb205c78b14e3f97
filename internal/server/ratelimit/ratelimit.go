// Package ratelimit gates code-resolution attempts per client identity.
// The policy is fail-closed: anything that prevents the limiter from
// answering must be treated as a denial by the caller, since the limiter
// is what makes the code space unguessable.
package ratelimit

import (
	"sync"
	"time"
)

// visitor tracks the attempt window for a single identity.
type visitor struct {
	count       int
	windowStart time.Time
}

// Window is a per-identity fixed-window attempt limiter.
type Window struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing limit attempts per identity per window.
// Close stops the background eviction when the limiter is retired.
func New(limit int, window time.Duration) *Window {
	w := &Window{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}

	// Evict identities that have gone quiet
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.evict()
			case <-w.stop:
				return
			}
		}
	}()

	return w
}

// Close stops the eviction goroutine. Allow keeps working afterwards;
// only the stale-identity cleanup stops. Safe to call more than once.
func (w *Window) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Allow records an attempt for identity and reports whether it is within
// the configured ceiling. The count and check happen under one lock, so
// concurrent attempts cannot slip past the ceiling.
func (w *Window) Allow(identity string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	v, exists := w.visitors[identity]
	if !exists {
		w.visitors[identity] = &visitor{count: 1, windowStart: now}
		return w.limit >= 1
	}

	if now.Sub(v.windowStart) >= w.window {
		v.count = 0
		v.windowStart = now
	}

	v.count++
	return v.count <= w.limit
}

func (w *Window) evict() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-2 * w.window)
	for identity, v := range w.visitors {
		if v.windowStart.Before(cutoff) {
			delete(w.visitors, identity)
		}
	}
}
