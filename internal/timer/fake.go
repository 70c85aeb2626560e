package timer

import (
	"errors"
	"sync"
	"time"
)

// Fake is a manually advanced clock. Callbacks run on the goroutine calling
// Advance, in fire-time order, with Now reporting their fire instant.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	closed  bool
	pending []*fakeHandle
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration, fn func()) (Handle, error) {
	if fn == nil {
		return nil, errors.New("timer callback is nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStopped
	}
	if d < 0 {
		d = 0
	}
	f.seq++
	h := &fakeHandle{owner: f, at: f.now.Add(d), seq: f.seq, fn: fn}
	f.pending = append(f.pending, h)
	return h, nil
}

// Advance moves the clock forward by d, firing every callback that falls due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.popDueLocked(target)
		if next == nil {
			if f.now.Before(target) {
				f.now = target
			}
			f.mu.Unlock()
			return
		}
		if next.at.After(f.now) {
			f.now = next.at
		}
		fn := next.fn
		f.mu.Unlock()
		fn()
	}
}

// Pending returns the number of callbacks that have neither fired nor been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, h := range f.pending {
		h.done = true
	}
	f.pending = nil
}

func (f *Fake) popDueLocked(target time.Time) *fakeHandle {
	idx := -1
	for i, h := range f.pending {
		if h.at.After(target) {
			continue
		}
		if idx < 0 || h.at.Before(f.pending[idx].at) || (h.at.Equal(f.pending[idx].at) && h.seq < f.pending[idx].seq) {
			idx = i
		}
	}
	if idx < 0 {
		return nil
	}
	h := f.pending[idx]
	f.removeLocked(idx)
	h.done = true
	return h
}

func (f *Fake) removeLocked(idx int) {
	copy(f.pending[idx:], f.pending[idx+1:])
	f.pending[len(f.pending)-1] = nil
	f.pending = f.pending[:len(f.pending)-1]
}

type fakeHandle struct {
	owner *Fake
	at    time.Time
	seq   uint64
	fn    func()
	done  bool
}

func (h *fakeHandle) Stop() bool {
	f := h.owner
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	for i, p := range f.pending {
		if p == h {
			f.removeLocked(i)
			break
		}
	}
	return true
}
