package session

import (
	"sync"
	"time"
)

// Timer is a restartable interval ticker. Every Start begins a new generation;
// callbacks carry the generation they were scheduled under so the owner can
// drop ticks that arrive after Stop or a restart.
type Timer struct {
	interval time.Duration

	mu   sync.Mutex
	gen  uint64
	stop chan struct{}
}

// NewTimer returns a stopped timer.
func NewTimer(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Timer{interval: interval}
}

// Start stops any running generation and begins a new one that calls fn on
// every interval. It returns the new generation.
func (t *Timer) Start(fn func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	stop := make(chan struct{})
	t.stop = stop

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn(gen)
			}
		}
	}()
	return gen
}

// Stop ends the current generation. Safe to call repeatedly and from inside fn.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
		t.gen++
	}
}

// Current reports whether gen is the live generation.
func (t *Timer) Current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil && gen == t.gen
}

// Running reports whether a generation is live.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Generation returns the live generation, or 0 when stopped.
func (t *Timer) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return 0
	}
	return t.gen
}
