package batch

import (
	"sync"
	"time"
)

// DefaultDebounce caps position telemetry at one emission per room per 500ms.
const DefaultDebounce = 500 * time.Millisecond

// PositionThrottle debounces position-update telemetry. Within the debounce
// window the latest value supersedes any pending one (last write wins); no
// sample is ever queued behind another.
type PositionThrottle struct {
	interval time.Duration
	emit     func(position float64, at time.Time)

	mu       sync.Mutex
	lastEmit time.Time
	pending  bool
	position float64
	at       time.Time
	timer    *time.Timer
	stopped  bool
}

// NewPositionThrottle creates a throttle that forwards at most one position
// per interval to emit.
func NewPositionThrottle(interval time.Duration, emit func(position float64, at time.Time)) *PositionThrottle {
	if interval <= 0 {
		interval = DefaultDebounce
	}
	return &PositionThrottle{interval: interval, emit: emit}
}

// Submit offers a new position sample.
func (t *PositionThrottle) Submit(position float64, at time.Time) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := time.Now()
	if !t.pending && now.Sub(t.lastEmit) >= t.interval {
		t.lastEmit = now
		t.mu.Unlock()
		t.emit(position, at)
		return
	}

	t.position = position
	t.at = at
	if !t.pending {
		t.pending = true
		wait := t.interval - now.Sub(t.lastEmit)
		if wait < 0 {
			wait = 0
		}
		t.timer = time.AfterFunc(wait, t.fire)
	}
	t.mu.Unlock()
}

func (t *PositionThrottle) fire() {
	t.mu.Lock()
	if t.stopped || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.lastEmit = time.Now()
	pos, ts := t.position, t.at
	t.mu.Unlock()
	t.emit(pos, ts)
}

// Stop cancels any pending emission.
func (t *PositionThrottle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
