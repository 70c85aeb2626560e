package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/taskpulse/internal/observability"
	"github.com/ent0n29/taskpulse/internal/reminder"
	"github.com/ent0n29/taskpulse/internal/timer"
)

const defaultEventHistoryLimit = 512

type Config struct {
	ReminderLead      time.Duration
	DeleteDelay       time.Duration
	RemoteTimeout     time.Duration
	TombstoneWindow   time.Duration
	EventHistoryLimit int
}

func DefaultConfig() Config {
	return Config{
		ReminderLead:      reminder.DefaultLead,
		DeleteDelay:       3 * time.Second,
		RemoteTimeout:     5 * time.Second,
		TombstoneWindow:   time.Minute,
		EventHistoryLimit: defaultEventHistoryLimit,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReminderLead < 0 {
		c.ReminderLead = d.ReminderLead
	}
	if c.DeleteDelay <= 0 {
		c.DeleteDelay = d.DeleteDelay
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = d.RemoteTimeout
	}
	if c.TombstoneWindow <= 0 {
		c.TombstoneWindow = d.TombstoneWindow
	}
	if c.EventHistoryLimit <= 0 {
		c.EventHistoryLimit = d.EventHistoryLimit
	}
	return c
}

type entry struct {
	task Task
	seq  uint64

	confirmed     *Task
	createPending bool
	pending       int
	failed        bool

	deferred   timer.Handle
	deferToken uint64
}

type tombstone struct {
	remoteID string
	pending  bool
	at       time.Time
}

// Manager owns the task set. Every mutation, including timer callbacks and
// remote results, goes through m.mu.
type Manager struct {
	cfg       Config
	clock     timer.Service
	ownClock  *timer.Real
	gateway   Gateway
	reminders *reminder.Scheduler
	metrics   *observability.Metrics

	queue      *remoteQueue
	workerDone chan struct{}

	mu         sync.RWMutex
	closed     bool
	seq        uint64
	deferSeq   uint64
	entries    map[string]*entry
	byRemote   map[string]string
	tombstones map[string]*tombstone

	eventsByTask map[string][]Event
	subscribers  map[int]chan Event
	nextSubID    int
}

// NewManager builds a manager. A nil gateway runs local-only; a nil
// scheduler disables reminders.
func NewManager(cfg Config, clock timer.Service, gateway Gateway, reminders *reminder.Scheduler, metrics *observability.Metrics) *Manager {
	m := &Manager{
		cfg:          cfg.withDefaults(),
		clock:        clock,
		gateway:      gateway,
		reminders:    reminders,
		metrics:      metrics,
		entries:      make(map[string]*entry),
		byRemote:     make(map[string]string),
		tombstones:   make(map[string]*tombstone),
		eventsByTask: make(map[string][]Event),
		subscribers:  make(map[int]chan Event),
	}
	if m.clock == nil {
		m.ownClock = timer.NewReal()
		m.clock = m.ownClock
	}
	if reminders != nil {
		reminders.SetFireHook(m.reminderFired)
	}
	if gateway != nil {
		m.queue = newRemoteQueue()
		m.workerDone = make(chan struct{})
		go m.runRemote()
	}
	return m
}

func (m *Manager) Remote() bool {
	return m.gateway != nil
}

func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.nextSubID++
	id := m.nextSubID
	m.subscribers[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(c)
		}
	}
}

func (m *Manager) AddTask(req AddRequest) (Task, Warnings, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Task{}, nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Task{}, nil, ErrManagerClosed
	}

	now := m.clock.Now()
	m.seq++
	e := &entry{
		seq: m.seq,
		task: Task{
			ID:          uuid.NewString(),
			Title:       title,
			Description: req.Description,
			DueDate:     cloneTime(req.DueDate),
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	m.entries[e.task.ID] = e

	var warnings Warnings
	if err := m.scheduleReminderLocked(e); err != nil {
		warnings = append(warnings, err)
	}

	if m.gateway != nil {
		e.createPending = true
		m.queue.push(remoteOp{kind: opCreate, taskID: e.task.ID, task: storedFields(e.task)})
	} else {
		m.confirmLocked(e)
	}

	m.publishLocked(Event{Type: EventTaskCreated, TaskID: e.task.ID, Task: taskPtr(e.task)})
	m.warnLocked(e.task.ID, warnings)
	return e.task.Clone(), warnings, nil
}

// ToggleCompletion flips the completion state. Completing cancels the
// reminder and arms the deferred deletion; reopening disarms it.
func (m *Manager) ToggleCompletion(taskID string) (Task, Warnings, error) {
	taskID = strings.TrimSpace(taskID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Task{}, nil, ErrManagerClosed
	}
	e, ok := m.entries[taskID]
	if !ok {
		return Task{}, nil, &NotFoundError{TaskID: taskID}
	}

	var warnings Warnings
	e.task.UpdatedAt = m.clock.Now()
	evtType := EventTaskCompleted
	if !e.task.Completed {
		e.task.Completed = true
		if err := m.cancelReminderLocked(e); err != nil {
			warnings = append(warnings, err)
		}
		if err := m.startDeferredLocked(e); err != nil {
			warnings = append(warnings, err)
		}
		m.enqueueLocked(e, remoteOp{kind: opComplete, taskID: taskID})
	} else {
		e.task.Completed = false
		m.stopDeferredLocked(e)
		open := false
		m.enqueueLocked(e, remoteOp{kind: opUpdate, taskID: taskID, patch: Patch{Completed: &open}})
		evtType = EventTaskReopened
	}

	m.publishLocked(Event{Type: evtType, TaskID: taskID, Task: taskPtr(e.task)})
	m.warnLocked(taskID, warnings)
	return e.task.Clone(), warnings, nil
}

// EditTask applies a partial update to title, description or due date.
func (m *Manager) EditTask(taskID string, patch Patch) (Task, Warnings, error) {
	taskID = strings.TrimSpace(taskID)
	if patch.Completed != nil {
		return Task{}, nil, &ValidationError{Field: "completed", Reason: "use toggle to change completion"}
	}
	if patch.Empty() {
		return Task{}, nil, &ValidationError{Field: "patch", Reason: "no fields to update"}
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return Task{}, nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		patch.Title = &title
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Task{}, nil, ErrManagerClosed
	}
	e, ok := m.entries[taskID]
	if !ok {
		return Task{}, nil, &NotFoundError{TaskID: taskID}
	}

	prev := e.task.Clone()
	patch.Apply(&e.task)
	e.task.UpdatedAt = m.clock.Now()

	var warnings Warnings
	if reminderInputsChanged(prev, e.task) {
		warnings = append(warnings, m.rescheduleReminderLocked(e)...)
	}
	m.enqueueLocked(e, remoteOp{kind: opUpdate, taskID: taskID, patch: patch})

	m.publishLocked(Event{Type: EventTaskUpdated, TaskID: taskID, Task: taskPtr(e.task)})
	m.warnLocked(taskID, warnings)
	return e.task.Clone(), warnings, nil
}

// DeleteTask removes the task locally and requests remote deletion. Deleting
// a task that was removed within the tombstone window is a no-op.
func (m *Manager) DeleteTask(taskID string) (Warnings, error) {
	taskID = strings.TrimSpace(taskID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	e, ok := m.entries[taskID]
	if !ok {
		if _, gone := m.tombstones[taskID]; gone {
			return nil, nil
		}
		return nil, &NotFoundError{TaskID: taskID}
	}
	warnings := m.removeLocked(e, "user")
	m.warnLocked(taskID, warnings)
	return warnings, nil
}

// Refresh reloads the task set from the store behind every queued write.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.gateway == nil {
		return nil
	}
	result := make(chan error, 1)
	if !m.queue.push(remoteOp{kind: opRefresh, ctx: ctx, result: result}) {
		return ErrManagerClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync waits until every remote write queued before the call has been
// reconciled.
func (m *Manager) Sync(ctx context.Context) error {
	if m.gateway == nil {
		return nil
	}
	done := make(chan struct{})
	if !m.queue.push(remoteOp{kind: opBarrier, done: done}) {
		return ErrManagerClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Get(taskID string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[taskID]
	if !ok {
		return Task{}, &NotFoundError{TaskID: taskID}
	}
	return e.task.Clone(), nil
}

func (m *Manager) List() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) ListEvents(taskID string, limit int) ([]Event, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, &ValidationError{Field: "task_id", Reason: "is required"}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	events, ok := m.eventsByTask[taskID]
	if !ok {
		if _, live := m.entries[taskID]; !live {
			return nil, &NotFoundError{TaskID: taskID}
		}
		return []Event{}, nil
	}
	start := 0
	if limit > 0 && limit < len(events) {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	return out, nil
}

func (m *Manager) PendingRemote() int {
	if m.queue == nil {
		return 0
	}
	return m.queue.len()
}

// Close flushes queued remote writes and disarms every deferred deletion.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.queue != nil {
		m.queue.close()
		<-m.workerDone
	}

	m.mu.Lock()
	for _, e := range m.entries {
		m.stopDeferredLocked(e)
	}
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
	m.mu.Unlock()

	if m.ownClock != nil {
		m.ownClock.Close()
	}
	return nil
}

func (m *Manager) enqueueLocked(e *entry, op remoteOp) {
	if m.gateway == nil {
		m.confirmLocked(e)
		return
	}
	if m.queue.push(op) {
		e.pending++
	}
}

func (m *Manager) confirmLocked(e *entry) {
	c := storedFields(e.task)
	e.confirmed = &c
}

func (m *Manager) removeLocked(e *entry, reason string) Warnings {
	var warnings Warnings
	if err := m.cancelReminderLocked(e); err != nil {
		warnings = append(warnings, err)
	}
	m.stopDeferredLocked(e)

	id := e.task.ID
	delete(m.entries, id)
	if e.task.RemoteID != "" {
		delete(m.byRemote, e.task.RemoteID)
	}

	now := m.clock.Now()
	m.gcTombstonesLocked(now)
	ts := &tombstone{remoteID: e.task.RemoteID, at: now}
	m.tombstones[id] = ts
	if m.gateway != nil {
		ts.pending = m.queue.push(remoteOp{kind: opDelete, taskID: id})
	}

	gone := e.task.Clone()
	gone.ReminderHandle = ""
	gone.ReminderAt = nil
	gone.DeleteAt = nil
	m.publishLocked(Event{Type: EventTaskDeleted, TaskID: id, Task: &gone, Code: reason})
	return warnings
}

func (m *Manager) gcTombstonesLocked(now time.Time) {
	for id, ts := range m.tombstones {
		if ts.pending || now.Sub(ts.at) < m.cfg.TombstoneWindow {
			continue
		}
		delete(m.tombstones, id)
		delete(m.eventsByTask, id)
	}
}

func (m *Manager) scheduleReminderLocked(e *entry) error {
	if m.reminders == nil || e.task.DueDate == nil || e.task.Completed {
		return nil
	}
	fireAt := reminder.FireTime(*e.task.DueDate, m.cfg.ReminderLead)
	h, ok, err := m.reminders.Schedule(e.task.ID, fireAt, reminder.Payload{
		Title:   e.task.Title,
		Body:    e.task.Description,
		DueDate: *e.task.DueDate,
	})
	if err != nil {
		return &SchedulingError{TaskID: e.task.ID, Kind: "reminder", Err: err}
	}
	if ok {
		e.task.ReminderHandle = h
		e.task.ReminderAt = &fireAt
	}
	return nil
}

func (m *Manager) cancelReminderLocked(e *entry) error {
	h := e.task.ReminderHandle
	e.task.ReminderHandle = ""
	e.task.ReminderAt = nil
	if h == "" || m.reminders == nil {
		return nil
	}
	if err := m.reminders.Cancel(h); err != nil {
		return &SchedulingError{TaskID: e.task.ID, Kind: "reminder_cancel", Err: err}
	}
	return nil
}

func (m *Manager) rescheduleReminderLocked(e *entry) Warnings {
	var warnings Warnings
	if err := m.cancelReminderLocked(e); err != nil {
		warnings = append(warnings, err)
	}
	if err := m.scheduleReminderLocked(e); err != nil {
		warnings = append(warnings, err)
	}
	return warnings
}

func (m *Manager) startDeferredLocked(e *entry) error {
	m.stopDeferredLocked(e)
	m.deferSeq++
	token := m.deferSeq
	id := e.task.ID
	h, err := m.clock.After(m.cfg.DeleteDelay, func() { m.deferredFire(id, token) })
	if err != nil {
		return &SchedulingError{TaskID: id, Kind: "deferred_delete", Err: err}
	}
	at := m.clock.Now().Add(m.cfg.DeleteDelay)
	e.deferred = h
	e.deferToken = token
	e.task.DeleteAt = &at
	return nil
}

func (m *Manager) stopDeferredLocked(e *entry) {
	if e.deferred != nil {
		e.deferred.Stop()
	}
	e.deferred = nil
	e.deferToken = 0
	e.task.DeleteAt = nil
}

func (m *Manager) deferredFire(taskID string, token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	e, ok := m.entries[taskID]
	if !ok || e.deferToken != token || !e.task.Completed {
		return
	}
	e.deferred = nil
	e.deferToken = 0
	warnings := m.removeLocked(e, "auto")
	m.warnLocked(taskID, warnings)
}

func (m *Manager) reminderFired(r reminder.Reminder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[r.TaskID]
	if !ok || e.task.ReminderHandle != r.Handle {
		return
	}
	e.task.ReminderHandle = ""
	e.task.ReminderAt = nil
	m.publishLocked(Event{Type: EventReminderFired, TaskID: r.TaskID, Task: taskPtr(e.task), Detail: r.Payload.Title})
}

func (m *Manager) runRemote() {
	defer close(m.workerDone)
	for {
		op, ok := m.queue.next()
		if !ok {
			return
		}
		m.execRemote(op)
	}
}

func (m *Manager) execRemote(op remoteOp) {
	switch op.kind {
	case opBarrier:
		close(op.done)
		return
	case opRefresh:
		op.result <- m.refreshNow(op.ctx)
		return
	}

	remoteID, run := m.resolveRemote(op)
	if !run {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RemoteTimeout)
	start := time.Now()
	var (
		result Task
		err    error
	)
	switch op.kind {
	case opCreate:
		result, err = m.gateway.Create(ctx, op.task)
	case opUpdate:
		result, err = m.gateway.Update(ctx, remoteID, op.patch)
	case opComplete:
		result, err = m.gateway.Complete(ctx, remoteID)
	case opDelete:
		err = m.gateway.Delete(ctx, remoteID)
		if errors.Is(err, ErrStoreNotFound) {
			err = nil
		}
	}
	cancel()
	m.metrics.ObserveRemoteCall(op.kind.String(), err, time.Since(start))

	var rerr *RemoteError
	if err != nil {
		rerr = asRemoteError(op.kind.String(), remoteID, err)
	}
	m.reconcile(op, result, rerr)
}

func (m *Manager) resolveRemote(op remoteOp) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch op.kind {
	case opCreate:
		_, ok := m.entries[op.taskID]
		return "", ok
	case opDelete:
		ts, ok := m.tombstones[op.taskID]
		if !ok {
			return "", false
		}
		if ts.remoteID == "" {
			ts.pending = false
			ts.at = m.clock.Now()
			return "", false
		}
		return ts.remoteID, true
	default:
		e, ok := m.entries[op.taskID]
		if !ok {
			return "", false
		}
		if e.task.RemoteID == "" {
			m.settleLocked(e)
			return "", false
		}
		return e.task.RemoteID, true
	}
}

func (m *Manager) reconcile(op remoteOp, result Task, err *RemoteError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch op.kind {
	case opCreate:
		m.reconcileCreateLocked(op, result, err)
	case opDelete:
		if ts, ok := m.tombstones[op.taskID]; ok {
			ts.pending = false
			ts.at = m.clock.Now()
		}
		if err != nil {
			m.publishLocked(Event{Type: EventRemoteError, TaskID: op.taskID, Code: "remote_delete_failed", Detail: err.Error()})
			log.Printf("task %s remote delete failed: %v", op.taskID, err)
		}
	default:
		e, ok := m.entries[op.taskID]
		if !ok {
			return
		}
		if err != nil {
			e.failed = true
			m.publishLocked(Event{Type: EventRemoteError, TaskID: op.taskID, Code: "remote_" + op.kind.String() + "_failed", Detail: err.Error()})
			log.Printf("task %s remote %s failed: %v", op.taskID, op.kind, err)
		} else if e.confirmed != nil {
			if op.kind == opComplete {
				e.confirmed.Completed = true
			} else {
				op.patch.Apply(e.confirmed)
			}
		}
		m.settleLocked(e)
	}
}

func (m *Manager) reconcileCreateLocked(op remoteOp, result Task, err *RemoteError) {
	e, ok := m.entries[op.taskID]
	if err != nil {
		log.Printf("task %s remote create failed: %v", op.taskID, err)
		if !ok {
			return
		}
		rolledBack := e.task.Clone()
		if cerr := m.cancelReminderLocked(e); cerr != nil {
			log.Printf("task %s: %v", op.taskID, cerr)
		}
		m.stopDeferredLocked(e)
		delete(m.entries, op.taskID)
		m.publishLocked(Event{Type: EventTaskRolledBack, TaskID: op.taskID, Task: &rolledBack, Code: "remote_create_failed", Detail: err.Error()})
		m.publishLocked(Event{Type: EventRemoteError, TaskID: op.taskID, Code: "remote_create_failed", Detail: err.Error()})
		return
	}

	if !ok {
		if ts, gone := m.tombstones[op.taskID]; gone {
			ts.remoteID = result.RemoteID
		}
		return
	}
	e.createPending = false
	e.task.RemoteID = result.RemoteID
	m.byRemote[result.RemoteID] = op.taskID
	confirmed := storedFields(op.task)
	confirmed.RemoteID = result.RemoteID
	e.confirmed = &confirmed
	m.publishLocked(Event{Type: EventTaskSynced, TaskID: op.taskID, Task: taskPtr(e.task)})
	if e.pending == 0 && e.failed {
		m.restoreLocked(e)
	}
}

func (m *Manager) settleLocked(e *entry) {
	if e.pending > 0 {
		e.pending--
	}
	if e.pending == 0 && e.failed && !e.createPending {
		m.restoreLocked(e)
	}
}

func (m *Manager) restoreLocked(e *entry) {
	e.failed = false
	if e.confirmed == nil {
		return
	}
	prev := e.task.Clone()
	target := *e.confirmed
	e.task.Title = target.Title
	e.task.Description = target.Description
	e.task.DueDate = cloneTime(target.DueDate)
	e.task.Completed = target.Completed
	e.task.UpdatedAt = m.clock.Now()

	var warnings Warnings
	switch {
	case e.task.Completed:
		if err := m.cancelReminderLocked(e); err != nil {
			warnings = append(warnings, err)
		}
		if !prev.Completed || e.deferred == nil {
			if err := m.startDeferredLocked(e); err != nil {
				warnings = append(warnings, err)
			}
		}
	default:
		m.stopDeferredLocked(e)
		if prev.Completed || reminderInputsChanged(prev, e.task) {
			warnings = append(warnings, m.rescheduleReminderLocked(e)...)
		}
	}

	m.publishLocked(Event{Type: EventTaskRolledBack, TaskID: e.task.ID, Task: taskPtr(e.task), Code: "remote_write_failed"})
	m.warnLocked(e.task.ID, warnings)
}

func (m *Manager) refreshNow(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RemoteTimeout)
	start := time.Now()
	remote, err := m.gateway.List(ctx)
	cancel()
	m.metrics.ObserveRemoteCall(opRefresh.String(), err, time.Since(start))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		rerr := asRemoteError(opRefresh.String(), "", err)
		m.publishLocked(Event{Type: EventRemoteError, Code: "remote_list_failed", Detail: rerr.Error()})
		return rerr
	}

	deleted := make(map[string]bool, len(m.tombstones))
	for _, ts := range m.tombstones {
		if ts.remoteID != "" {
			deleted[ts.remoteID] = true
		}
	}

	var warnings Warnings
	seen := make(map[string]bool, len(remote))
	for _, rt := range remote {
		if rt.RemoteID == "" || deleted[rt.RemoteID] || seen[rt.RemoteID] {
			continue
		}
		seen[rt.RemoteID] = true

		id, known := m.byRemote[rt.RemoteID]
		if !known {
			warnings = append(warnings, m.adoptRemoteLocked(rt)...)
			continue
		}
		e := m.entries[id]
		if e == nil || e.pending > 0 || e.createPending {
			continue
		}
		warnings = append(warnings, m.overwriteLocked(e, rt)...)
	}

	for _, e := range m.entries {
		if e.task.RemoteID == "" || seen[e.task.RemoteID] || e.pending > 0 || e.createPending {
			continue
		}
		if err := m.cancelReminderLocked(e); err != nil {
			warnings = append(warnings, err)
		}
		m.stopDeferredLocked(e)
		delete(m.entries, e.task.ID)
		delete(m.byRemote, e.task.RemoteID)
		m.publishLocked(Event{Type: EventTaskDeleted, TaskID: e.task.ID, Task: taskPtr(e.task), Code: "remote_missing"})
	}

	m.publishLocked(Event{Type: EventTasksRefreshed, Detail: fmt.Sprintf("%d tasks", len(m.entries))})
	m.warnLocked("", warnings)
	return nil
}

func (m *Manager) adoptRemoteLocked(rt Task) Warnings {
	now := m.clock.Now()
	m.seq++
	e := &entry{
		seq: m.seq,
		task: Task{
			ID:          uuid.NewString(),
			RemoteID:    rt.RemoteID,
			Title:       rt.Title,
			Description: rt.Description,
			DueDate:     cloneTime(rt.DueDate),
			Completed:   rt.Completed,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	m.entries[e.task.ID] = e
	m.byRemote[rt.RemoteID] = e.task.ID
	m.confirmLocked(e)

	var warnings Warnings
	if err := m.scheduleReminderLocked(e); err != nil {
		warnings = append(warnings, err)
	}
	m.publishLocked(Event{Type: EventTaskCreated, TaskID: e.task.ID, Task: taskPtr(e.task), Code: "remote"})
	return warnings
}

func (m *Manager) overwriteLocked(e *entry, rt Task) Warnings {
	prev := e.task.Clone()
	e.task.Title = rt.Title
	e.task.Description = rt.Description
	e.task.DueDate = cloneTime(rt.DueDate)
	e.task.Completed = rt.Completed
	m.confirmLocked(e)
	if sameStored(prev, e.task) {
		return nil
	}
	e.task.UpdatedAt = m.clock.Now()

	var warnings Warnings
	if e.task.Completed {
		if err := m.cancelReminderLocked(e); err != nil {
			warnings = append(warnings, err)
		}
	} else {
		m.stopDeferredLocked(e)
		if reminderInputsChanged(prev, e.task) {
			warnings = append(warnings, m.rescheduleReminderLocked(e)...)
		}
	}
	m.publishLocked(Event{Type: EventTaskUpdated, TaskID: e.task.ID, Task: taskPtr(e.task), Code: "remote"})
	return warnings
}

func (m *Manager) warnLocked(taskID string, warnings Warnings) {
	for _, w := range warnings {
		log.Printf("task %s: %v", taskID, w)
		m.publishLocked(Event{Type: EventSchedulingWarning, TaskID: taskID, Detail: w.Error()})
	}
}

func (m *Manager) snapshotLocked() []Task {
	list := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]Task, 0, len(list))
	for _, e := range list {
		out = append(out, e.task.Clone())
	}
	return out
}

func (m *Manager) publishLocked(evt Event) {
	evt.At = m.clock.Now()
	evt.Snapshot = m.snapshotLocked()
	if taskID := strings.TrimSpace(evt.TaskID); taskID != "" {
		m.eventsByTask[taskID] = append(m.eventsByTask[taskID], evt)
		if max := m.cfg.EventHistoryLimit; max > 0 && len(m.eventsByTask[taskID]) > max {
			trimFrom := len(m.eventsByTask[taskID]) - max
			m.eventsByTask[taskID] = append([]Event(nil), m.eventsByTask[taskID][trimFrom:]...)
		}
	}

	m.metrics.ObserveTaskEvent(string(evt.Type))
	pendingDeletes := 0
	for _, e := range m.entries {
		if e.deferred != nil {
			pendingDeletes++
		}
	}
	m.metrics.SetTaskGauges(len(m.entries), pendingDeletes)

	for _, ch := range m.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func sameStored(a, b Task) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Completed == b.Completed &&
		sameTime(a.DueDate, b.DueDate)
}

func reminderInputsChanged(prev, next Task) bool {
	return !sameTime(prev.DueDate, next.DueDate) || prev.Title != next.Title || prev.Description != next.Description
}

func taskPtr(t Task) *Task {
	c := t.Clone()
	return &c
}
