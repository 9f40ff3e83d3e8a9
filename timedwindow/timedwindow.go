// Package timedwindow implements a "times per window" limiter: a fixed
// number of slots that refill independently, one per-acquire, after a
// fixed window has elapsed since that particular slot was taken. This is
// the primitive both the identify concurrency gate and the per-minute
// outbound command limit are built from.
//
// Each acquired slot carries its own release timer rather than the whole
// limiter resetting in a single window-wide flash; a burst of N acquires
// spaced out across a window drains and refills smoothly instead of
// admitting nothing until the window boundary.
package timedwindow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned to any Acquire call in flight when Close runs.
var ErrClosed = errors.New("timedwindow: limiter closed")

// TimesPerWindow admits at most limit acquisitions per window, independent
// of how long any single acquisition's work takes: the slot frees itself
// window after the acquire that consumed it, not after the caller is done.
type TimesPerWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	used    int
	timers  map[uint64]*time.Timer
	nextID  uint64
	waiters []chan struct{}
	closed  bool
}

// New creates a limiter admitting limit acquisitions per window. Slots
// start fully available.
func New(limit int, window time.Duration) *TimesPerWindow {
	return &TimesPerWindow{
		limit:  limit,
		window: window,
		timers: make(map[uint64]*time.Timer, limit),
	}
}

// Acquire blocks until a slot is available or ctx is done. On success the
// slot is consumed immediately and will release itself automatically one
// window later.
func (t *TimesPerWindow) Acquire(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return ErrClosed
		}
		if t.used < t.limit {
			t.used++
			id := t.nextID
			t.nextID++
			timer := time.AfterFunc(t.window, func() { t.release(id) })
			t.timers[id] = timer
			t.mu.Unlock()
			return nil
		}
		wake := make(chan struct{})
		t.waiters = append(t.waiters, wake)
		t.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryAcquire consumes a slot without blocking, reporting whether one was
// available.
func (t *TimesPerWindow) TryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.used >= t.limit {
		return false
	}
	t.used++
	id := t.nextID
	t.nextID++
	t.timers[id] = time.AfterFunc(t.window, func() { t.release(id) })
	return true
}

func (t *TimesPerWindow) release(id uint64) {
	t.mu.Lock()
	if _, ok := t.timers[id]; !ok {
		// already reclaimed by Reset/Close.
		t.mu.Unlock()
		return
	}
	delete(t.timers, id)
	if t.used > 0 {
		t.used--
	}
	t.wakeOneLocked()
	t.mu.Unlock()
}

func (t *TimesPerWindow) wakeOneLocked() {
	if len(t.waiters) == 0 {
		return
	}
	wake := t.waiters[0]
	t.waiters = t.waiters[1:]
	close(wake)
}

// Remaining reports how many slots are currently free.
func (t *TimesPerWindow) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit - t.used
}

// Reset cancels every outstanding release timer and returns the limiter to
// a fully available state, as GatewaySession.Close does with its command
// limiter.
func (t *TimesPerWindow) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.used = 0
	for _, wake := range t.waiters {
		close(wake)
	}
	t.waiters = nil
}

// Close cancels every outstanding timer and wakes any blocked Acquire call
// with ErrClosed. The limiter is unusable afterward.
func (t *TimesPerWindow) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	for _, wake := range t.waiters {
		close(wake)
	}
	t.waiters = nil
}
