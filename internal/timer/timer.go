package timer

import (
	"errors"
	"sync"
	"time"
)

var ErrStopped = errors.New("timer service stopped")

// Handle cancels a callback registered with Service.After.
type Handle interface {
	// Stop reports whether the callback was prevented from running.
	Stop() bool
}

// Service schedules one-shot callbacks.
type Service interface {
	Now() time.Time
	After(d time.Duration, fn func()) (Handle, error)
}

// Real runs callbacks on runtime timers.
type Real struct {
	mu      sync.Mutex
	closed  bool
	pending map[*realHandle]struct{}
}

func NewReal() *Real {
	return &Real{pending: make(map[*realHandle]struct{})}
}

func (r *Real) Now() time.Time {
	return time.Now().UTC()
}

func (r *Real) After(d time.Duration, fn func()) (Handle, error) {
	if fn == nil {
		return nil, errors.New("timer callback is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrStopped
	}
	h := &realHandle{owner: r}
	r.pending[h] = struct{}{}
	h.t = time.AfterFunc(d, func() {
		if !r.release(h) {
			return
		}
		fn()
	})
	return h, nil
}

// Close stops every pending callback and rejects new ones.
func (r *Real) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for h := range r.pending {
		h.t.Stop()
		delete(r.pending, h)
	}
}

func (r *Real) release(h *realHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[h]; !ok {
		return false
	}
	delete(r.pending, h)
	return true
}

type realHandle struct {
	owner *Real
	t     *time.Timer
}

func (h *realHandle) Stop() bool {
	if !h.owner.release(h) {
		return false
	}
	h.t.Stop()
	return true
}
