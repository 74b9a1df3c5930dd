package service

import (
	"sync"

	"github.com/stemsi/exstem-runtime/internal/session"
)

const subscriberBuffer = 8

// hub fans session snapshots out to stream subscribers. Slow subscribers lose
// their oldest pending snapshot rather than blocking the session.
type hub struct {
	mu     sync.Mutex
	subs   map[chan session.Snapshot]struct{}
	last   *session.Snapshot
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan session.Snapshot]struct{})}
}

func (h *hub) publish(s session.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || (h.last != nil && s.Version < h.last.Version) {
		return
	}
	h.last = &s
	for ch := range h.subs {
		offer(ch, s)
	}
}

func offer(ch chan session.Snapshot, s session.Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// subscribe returns a channel primed with the latest snapshot, and a cancel func.
func (h *hub) subscribe() (<-chan session.Snapshot, func()) {
	ch := make(chan session.Snapshot, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	if h.last != nil {
		ch <- *h.last
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
