package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/taskpulse/internal/observability"
	"github.com/ent0n29/taskpulse/internal/timer"
)

// DefaultLead is how long before the due date a reminder fires.
const DefaultLead = 15 * time.Minute

var (
	ErrNotStarted = errors.New("reminder scheduler not started")
	ErrClosed     = errors.New("reminder scheduler closed")
)

// Handle identifies one scheduled reminder. Handles are never reused.
type Handle string

type Payload struct {
	Title   string    `json:"title"`
	Body    string    `json:"body,omitempty"`
	DueDate time.Time `json:"due_date"`
}

type Reminder struct {
	Handle  Handle    `json:"handle"`
	TaskID  string    `json:"task_id"`
	FireAt  time.Time `json:"fire_at"`
	Payload Payload   `json:"payload"`
}

// FireTime applies the lead-time policy to a due date.
func FireTime(due time.Time, lead time.Duration) time.Time {
	if lead < 0 {
		lead = 0
	}
	return due.Add(-lead)
}

type entry struct {
	reminder Reminder
	timer    timer.Handle
}

// Scheduler registers reminders on a timer service and hands them to a
// Notifier when they fire.
type Scheduler struct {
	clock          timer.Service
	notifier       Notifier
	metrics        *observability.Metrics
	deliverTimeout time.Duration

	initOnce sync.Once
	initErr  error

	mu      sync.Mutex
	started bool
	closed  bool
	entries map[Handle]*entry
	onFire  func(Reminder)
}

func NewScheduler(clock timer.Service, notifier Notifier, metrics *observability.Metrics) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Scheduler{
		clock:          clock,
		notifier:       notifier,
		metrics:        metrics,
		deliverTimeout: 5 * time.Second,
		entries:        make(map[Handle]*entry),
	}
}

// Start initialises the notifier. It runs the initialisation at most once;
// later calls return the first result.
func (s *Scheduler) Start(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			s.initErr = ErrClosed
			return
		}
		if err := s.notifier.Init(ctx); err != nil {
			s.initErr = fmt.Errorf("init notifier: %w", err)
			return
		}
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
	})
	return s.initErr
}

// SetFireHook registers a callback invoked after a reminder is removed from
// the scheduler and before it is delivered.
func (s *Scheduler) SetFireHook(fn func(Reminder)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFire = fn
}

// Schedule registers a reminder for taskID. When fireAt is not strictly in the
// future no reminder is created and ok is false.
func (s *Scheduler) Schedule(taskID string, fireAt time.Time, payload Payload) (Handle, bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return "", false, errors.New("task_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	if !s.started {
		return "", false, ErrNotStarted
	}

	now := s.clock.Now()
	if !fireAt.After(now) {
		s.metrics.ObserveReminderEvent("skipped")
		return "", false, nil
	}

	h := Handle(uuid.NewString())
	t, err := s.clock.After(fireAt.Sub(now), func() { s.fire(h) })
	if err != nil {
		return "", false, fmt.Errorf("register reminder timer: %w", err)
	}
	s.entries[h] = &entry{
		reminder: Reminder{
			Handle:  h,
			TaskID:  taskID,
			FireAt:  fireAt.UTC(),
			Payload: payload,
		},
		timer: t,
	}
	s.metrics.ObserveReminderEvent("scheduled")
	return h, true, nil
}

// Cancel drops a pending reminder. Unknown, fired or already cancelled
// handles are a no-op. An error is only returned when the notifier fails to
// withdraw an announced reminder; the reminder is cancelled regardless.
func (s *Scheduler) Cancel(h Handle) error {
	if h == "" {
		return nil
	}
	s.mu.Lock()
	e, ok := s.entries[h]
	if ok {
		delete(s.entries, h)
		e.timer.Stop()
	}
	notifier := s.notifier
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.metrics.ObserveReminderEvent("cancelled")

	w, ok := notifier.(Withdrawer)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.deliverTimeout)
	defer cancel()
	if err := w.Withdraw(ctx, e.reminder); err != nil {
		return fmt.Errorf("withdraw reminder %s: %w", h, err)
	}
	return nil
}

// Lookup returns the pending reminder for h.
func (s *Scheduler) Lookup(h Handle) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[h]
	if !ok {
		return Reminder{}, false
	}
	return e.reminder, true
}

// Pending returns the number of outstanding reminders.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close cancels all outstanding reminders and tears the notifier down.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	for h, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, h)
	}
	s.mu.Unlock()

	if !started {
		return nil
	}
	return s.notifier.Close()
}

func (s *Scheduler) fire(h Handle) {
	s.mu.Lock()
	e, ok := s.entries[h]
	if ok {
		delete(s.entries, h)
	}
	hook := s.onFire
	notifier := s.notifier
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.ObserveReminderEvent("fired")

	if hook != nil {
		hook(e.reminder)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.deliverTimeout)
	defer cancel()
	if err := notifier.Deliver(ctx, e.reminder); err != nil {
		s.metrics.ObserveReminderEvent("delivery_failed")
		log.Printf("reminder %s delivery failed: %v", h, err)
	}
}
