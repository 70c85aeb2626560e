package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/taskpulse/internal/reminder"
	"github.com/ent0n29/taskpulse/internal/timer"
)

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAddTaskRejectsEmptyTitle(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestManager(t, gw)

	_, _, err := m.AddTask(AddRequest{Title: "   "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("AddTask() error = %v, want ValidationError", err)
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("AddTask() error = %v, want ErrInvalidRequest", err)
	}
	syncManager(t, m)
	if got := len(m.List()); got != 0 {
		t.Fatalf("List() len = %d, want 0", got)
	}
	if got := gw.total(); got != 0 {
		t.Fatalf("remote calls = %d, want 0", got)
	}
}

// Runs the rent reminder walkthrough with a three minute deletion delay so
// the reopen at T+2m lands before the deferred delete at T+4m.
func TestPayRentScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeleteDelay = 3 * time.Minute
	m, clock, sched := newTestManagerWithConfig(t, cfg, nil)

	due := testStart.Add(20 * time.Minute)
	task, warnings, err := m.AddTask(AddRequest{Title: "Pay rent", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("AddTask() warnings = %v", warnings)
	}
	if task.ReminderHandle == "" || task.ReminderAt == nil {
		t.Fatalf("expected reminder on task")
	}
	if want := testStart.Add(5 * time.Minute); !task.ReminderAt.Equal(want) {
		t.Fatalf("ReminderAt = %v, want %v", task.ReminderAt, want)
	}

	clock.Advance(time.Minute)
	task, _, err = m.ToggleCompletion(task.ID)
	if err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	if !task.Completed || task.ReminderHandle != "" {
		t.Fatalf("after complete: completed=%v handle=%q", task.Completed, task.ReminderHandle)
	}
	if sched.Pending() != 0 {
		t.Fatalf("scheduler pending = %d, want 0", sched.Pending())
	}
	if task.DeleteAt == nil || !task.DeleteAt.Equal(testStart.Add(4*time.Minute)) {
		t.Fatalf("DeleteAt = %v, want T+4m", task.DeleteAt)
	}

	clock.Advance(time.Minute)
	task, _, err = m.ToggleCompletion(task.ID)
	if err != nil {
		t.Fatalf("second ToggleCompletion() error = %v", err)
	}
	if task.Completed || task.DeleteAt != nil {
		t.Fatalf("after reopen: completed=%v deleteAt=%v", task.Completed, task.DeleteAt)
	}

	clock.Advance(8 * time.Minute)
	got, err := m.Get(task.ID)
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got.Completed {
		t.Fatalf("task completed after reopen")
	}
	if got.ReminderHandle != "" || sched.Pending() != 0 {
		t.Fatalf("reminder re-created on reopen")
	}
	if clock.Pending() != 0 {
		t.Fatalf("timers pending = %d, want 0", clock.Pending())
	}
}

func TestCompletedTaskNeverHoldsReminder(t *testing.T) {
	m, _, sched := newTestManager(t, nil)

	due := testStart.Add(2 * time.Hour)
	task, _, err := m.AddTask(AddRequest{Title: "Water plants", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if _, _, err := m.ToggleCompletion(task.ID); err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	later := due.Add(time.Hour)
	if _, _, err := m.EditTask(task.ID, Patch{DueDate: &later}); err != nil {
		t.Fatalf("EditTask() error = %v", err)
	}
	for _, task := range m.List() {
		if task.Completed && task.ReminderHandle != "" {
			t.Fatalf("completed task %s holds reminder %q", task.ID, task.ReminderHandle)
		}
	}
	if sched.Pending() != 0 {
		t.Fatalf("scheduler pending = %d, want 0", sched.Pending())
	}
}

func TestDoubleToggleLeavesAtMostOneTimer(t *testing.T) {
	m, clock, _ := newTestManager(t, nil)

	task, _, err := m.AddTask(AddRequest{Title: "Stretch"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, _, err := m.ToggleCompletion(task.ID); err != nil {
			t.Fatalf("ToggleCompletion() #%d error = %v", i, err)
		}
		if clock.Pending() > 1 {
			t.Fatalf("timers pending = %d after toggle #%d, want <= 1", clock.Pending(), i)
		}
	}
	got, _ := m.Get(task.ID)
	if !got.Completed {
		t.Fatalf("odd number of toggles should leave the task completed")
	}
	if _, _, err := m.ToggleCompletion(task.ID); err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	got, _ = m.Get(task.ID)
	if got.Completed || clock.Pending() != 0 {
		t.Fatalf("completed=%v pending=%d, want false and 0", got.Completed, clock.Pending())
	}
}

func TestDeferredDeletionRemovesTask(t *testing.T) {
	gw := newFakeGateway()
	m, clock, _ := newTestManager(t, gw)

	task, _, err := m.AddTask(AddRequest{Title: "Take out bins"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if _, _, err := m.ToggleCompletion(task.ID); err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	syncManager(t, m)

	clock.Advance(2999 * time.Millisecond)
	if _, err := m.Get(task.ID); err != nil {
		t.Fatalf("task removed before delay: %v", err)
	}
	clock.Advance(time.Millisecond)
	if _, err := m.Get(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get() after delay error = %v, want %v", err, ErrTaskNotFound)
	}
	syncManager(t, m)
	if got := gw.count("delete"); got != 1 {
		t.Fatalf("remote deletes = %d, want 1", got)
	}
	if remaining, _ := gw.MemoryStore.List(context.Background()); len(remaining) != 0 {
		t.Fatalf("store still holds %d tasks", len(remaining))
	}
}

func TestDeleteCancelsReminderAndDeferredTimer(t *testing.T) {
	m, clock, sched := newTestManager(t, nil)

	due := testStart.Add(time.Hour)
	withReminder, _, err := m.AddTask(AddRequest{Title: "Call mum", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	completed, _, err := m.AddTask(AddRequest{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if _, _, err := m.ToggleCompletion(completed.ID); err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	if sched.Pending() != 1 || clock.Pending() != 2 {
		t.Fatalf("before delete: reminders=%d timers=%d, want 1 and 2", sched.Pending(), clock.Pending())
	}

	for _, id := range []string{withReminder.ID, completed.ID} {
		if _, err := m.DeleteTask(id); err != nil {
			t.Fatalf("DeleteTask(%s) error = %v", id, err)
		}
		if _, err := m.Get(id); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("Get(%s) error = %v, want %v", id, err, ErrTaskNotFound)
		}
	}
	if sched.Pending() != 0 || clock.Pending() != 0 {
		t.Fatalf("after delete: reminders=%d timers=%d, want 0", sched.Pending(), clock.Pending())
	}
	if _, err := m.DeleteTask("unknown"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("DeleteTask(unknown) error = %v, want %v", err, ErrTaskNotFound)
	}
}

func TestDeferredFireRacingExplicitDelete(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestManager(t, gw)

	task, _, err := m.AddTask(AddRequest{Title: "Renew passport"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if _, _, err := m.ToggleCompletion(task.ID); err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	syncManager(t, m)
	m.mu.RLock()
	token := m.entries[task.ID].deferToken
	m.mu.RUnlock()

	// The timer callback already left the clock when the user deleted.
	if _, err := m.DeleteTask(task.ID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	m.deferredFire(task.ID, token)
	if _, err := m.DeleteTask(task.ID); err != nil {
		t.Fatalf("repeated DeleteTask() error = %v, want nil", err)
	}

	syncManager(t, m)
	if _, err := m.Get(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get() error = %v, want %v", err, ErrTaskNotFound)
	}
	if got := gw.count("delete"); got != 1 {
		t.Fatalf("remote deletes = %d, want 1", got)
	}
	deleted := 0
	events, err := m.ListEvents(task.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	for _, evt := range events {
		if evt.Type == EventTaskDeleted {
			deleted++
		}
	}
	if deleted != 1 {
		t.Fatalf("deleted events = %d, want 1", deleted)
	}
}

func TestShortDueDateSchedulesNoReminder(t *testing.T) {
	m, _, sched := newTestManager(t, nil)

	due := testStart.Add(10 * time.Minute)
	task, warnings, err := m.AddTask(AddRequest{Title: "Leave for station", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if task.ReminderHandle != "" || task.ReminderAt != nil {
		t.Fatalf("reminder scheduled for near due date: %+v", task)
	}
	if sched.Pending() != 0 {
		t.Fatalf("scheduler pending = %d, want 0", sched.Pending())
	}
}

func TestReminderFiresAndClearsHandle(t *testing.T) {
	m, clock, _ := newTestManager(t, nil)
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	due := testStart.Add(30 * time.Minute)
	task, _, err := m.AddTask(AddRequest{Title: "Standup", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	clock.Advance(15 * time.Minute)

	got, _ := m.Get(task.ID)
	if got.ReminderHandle != "" {
		t.Fatalf("handle retained after fire: %q", got.ReminderHandle)
	}
	if !drainUntil(events, EventReminderFired) {
		t.Fatalf("no %s event", EventReminderFired)
	}
}

func TestRemoteCreateFailureRollsBack(t *testing.T) {
	gw := newFakeGateway()
	gw.fail("create", &RemoteError{Op: "create", Status: 500, Err: errors.New("boom")})
	m, clock, sched := newTestManager(t, gw)

	due := testStart.Add(time.Hour)
	task, _, err := m.AddTask(AddRequest{Title: "Book dentist", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if _, err := m.Get(task.ID); err != nil {
		t.Fatalf("optimistic task missing: %v", err)
	}

	syncManager(t, m)
	if _, err := m.Get(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get() after failed create error = %v, want %v", err, ErrTaskNotFound)
	}
	for _, got := range m.List() {
		if got.ID == task.ID {
			t.Fatalf("List() still contains rolled back task")
		}
	}
	if sched.Pending() != 0 || clock.Pending() != 0 {
		t.Fatalf("timers left after rollback: reminders=%d timers=%d", sched.Pending(), clock.Pending())
	}

	events, err := m.ListEvents(task.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	var rolledBack, remoteErr bool
	for _, evt := range events {
		rolledBack = rolledBack || evt.Type == EventTaskRolledBack
		remoteErr = remoteErr || evt.Type == EventRemoteError
	}
	if !rolledBack || !remoteErr {
		t.Fatalf("events = %+v, want rollback and remote error", events)
	}
}

func TestRemoteCompleteFailureRestoresConfirmedState(t *testing.T) {
	gw := newFakeGateway()
	m, clock, sched := newTestManager(t, gw)

	due := testStart.Add(time.Hour)
	task, _, err := m.AddTask(AddRequest{Title: "File taxes", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	syncManager(t, m)

	gw.fail("complete", &RemoteError{Op: "complete", Status: 503, Err: errors.New("unavailable")})
	if _, _, err := m.ToggleCompletion(task.ID); err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	syncManager(t, m)

	got, err := m.Get(task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Completed || got.DeleteAt != nil {
		t.Fatalf("rollback left completed=%v deleteAt=%v", got.Completed, got.DeleteAt)
	}
	if got.ReminderHandle == "" || sched.Pending() != 1 {
		t.Fatalf("reminder not restored after rollback")
	}
	clock.Advance(10 * time.Second)
	if _, err := m.Get(task.ID); err != nil {
		t.Fatalf("task deleted after rollback: %v", err)
	}
}

func TestRemoteEditFailureRestoresConfirmedState(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestManager(t, gw)

	task, _, err := m.AddTask(AddRequest{Title: "Draft report", Description: "v1"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	syncManager(t, m)

	gw.fail("update", errors.New("connection reset"))
	title := "Final report"
	edited, _, err := m.EditTask(task.ID, Patch{Title: &title})
	if err != nil {
		t.Fatalf("EditTask() error = %v", err)
	}
	if edited.Title != title {
		t.Fatalf("optimistic title = %q, want %q", edited.Title, title)
	}
	syncManager(t, m)

	got, _ := m.Get(task.ID)
	if got.Title != "Draft report" || got.Description != "v1" {
		t.Fatalf("after rollback = %+v, want original fields", got)
	}
}

func TestRemoteReopenFailureRearmsDeferredDeletion(t *testing.T) {
	gw := newFakeGateway()
	m, clock, _ := newTestManager(t, gw)

	task, _, err := m.AddTask(AddRequest{Title: "Water plants"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if _, _, err := m.ToggleCompletion(task.ID); err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	syncManager(t, m)

	gw.fail("update", &RemoteError{Op: "update", Status: 500, Err: errors.New("boom")})
	reopened, _, err := m.ToggleCompletion(task.ID)
	if err != nil {
		t.Fatalf("ToggleCompletion(reopen) error = %v", err)
	}
	if reopened.Completed || reopened.DeleteAt != nil {
		t.Fatalf("optimistic reopen = %+v", reopened)
	}
	syncManager(t, m)

	got, err := m.Get(task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := clock.Now().Add(DefaultConfig().DeleteDelay)
	if !got.Completed || got.DeleteAt == nil || !got.DeleteAt.Equal(want) {
		t.Fatalf("after rollback completed=%v deleteAt=%v, want completed with deleteAt %v", got.Completed, got.DeleteAt, want)
	}

	clock.Advance(DefaultConfig().DeleteDelay)
	if _, err := m.Get(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get() after re-armed delay error = %v, want %v", err, ErrTaskNotFound)
	}
}

func TestRemoteDeleteFailureKeepsTaskDeleted(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestManager(t, gw)

	task, _, err := m.AddTask(AddRequest{Title: "Cancel gym"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	syncManager(t, m)

	events, unsubscribe := m.Subscribe()
	defer unsubscribe()
	gw.fail("delete", errors.New("connection refused"))
	if _, err := m.DeleteTask(task.ID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	syncManager(t, m)

	if _, err := m.Get(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get() after failed remote delete error = %v, want %v", err, ErrTaskNotFound)
	}
	if !drainUntil(events, EventRemoteError) {
		t.Fatalf("no %s event after failed remote delete", EventRemoteError)
	}
	if _, err := m.DeleteTask(task.ID); err != nil {
		t.Fatalf("repeat DeleteTask() error = %v", err)
	}
}

func TestReminderWithdrawFailureIsWarning(t *testing.T) {
	clock := timer.NewFake(testStart)
	sched := reminder.NewScheduler(clock, withdrawFailNotifier{}, nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m := NewManager(DefaultConfig(), clock, nil, sched, nil)
	t.Cleanup(func() {
		_ = m.Close()
		_ = sched.Close()
	})

	due := testStart.Add(time.Hour)
	task, _, err := m.AddTask(AddRequest{Title: "Call bank", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if task.ReminderHandle == "" {
		t.Fatalf("no reminder scheduled")
	}

	done, warnings, err := m.ToggleCompletion(task.ID)
	if err != nil {
		t.Fatalf("ToggleCompletion() error = %v", err)
	}
	var serr *SchedulingError
	if len(warnings) != 1 || !errors.As(warnings.Err(), &serr) || serr.Kind != "reminder_cancel" {
		t.Fatalf("warnings = %v, want one reminder_cancel SchedulingError", warnings)
	}
	if !done.Completed || done.ReminderHandle != "" || sched.Pending() != 0 {
		t.Fatalf("completed task kept reminder state: %+v pending=%d", done, sched.Pending())
	}
}

func TestRemoteFailuresSurfaceAsRemoteError(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestManager(t, gw)

	gw.fail("list", errors.New("dial tcp: connection refused"))
	err := m.Refresh(context.Background())
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("Refresh() error = %v, want RemoteError", err)
	}
	if rerr.Op != "list" || !rerr.Retryable() {
		t.Fatalf("RemoteError = %+v, want retryable list error", rerr)
	}
}

func TestRefreshFailureLeavesSetUnchanged(t *testing.T) {
	gw := newFakeGateway()
	m, _, _ := newTestManager(t, gw)

	for _, title := range []string{"a", "b"} {
		if _, _, err := m.AddTask(AddRequest{Title: title}); err != nil {
			t.Fatalf("AddTask(%s) error = %v", title, err)
		}
	}
	syncManager(t, m)
	before := m.List()

	gw.fail("list", &RemoteError{Op: "list", Status: 502, Err: errors.New("bad gateway")})
	err := m.Refresh(context.Background())
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("Refresh() error = %v, want RemoteError", err)
	}
	if !rerr.Retryable() {
		t.Fatalf("502 should be retryable")
	}

	after := m.List()
	if len(after) != len(before) {
		t.Fatalf("List() len = %d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].Title != before[i].Title {
			t.Fatalf("task %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestRefreshMergesRemoteState(t *testing.T) {
	gw := newFakeGateway()
	m, _, sched := newTestManager(t, gw)

	local, _, err := m.AddTask(AddRequest{Title: "local"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	doomed, _, err := m.AddTask(AddRequest{Title: "doomed"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	syncManager(t, m)

	ctx := context.Background()
	due := testStart.Add(time.Hour)
	external, err := gw.MemoryStore.Create(ctx, Task{Title: "from elsewhere", DueDate: &due})
	if err != nil {
		t.Fatalf("store Create() error = %v", err)
	}
	localNow, _ := m.Get(local.ID)
	renamed := "renamed remotely"
	if _, err := gw.MemoryStore.Update(ctx, localNow.RemoteID, Patch{Title: &renamed}); err != nil {
		t.Fatalf("store Update() error = %v", err)
	}
	doomedNow, _ := m.Get(doomed.ID)
	if err := gw.MemoryStore.Delete(ctx, doomedNow.RemoteID); err != nil {
		t.Fatalf("store Delete() error = %v", err)
	}

	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	got, err := m.Get(local.ID)
	if err != nil {
		t.Fatalf("local task lost its id: %v", err)
	}
	if got.Title != renamed {
		t.Fatalf("Title = %q, want %q", got.Title, renamed)
	}
	if _, err := m.Get(doomed.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("vanished task still present: %v", err)
	}
	var adopted *Task
	for _, task := range m.List() {
		if task.RemoteID == external.RemoteID {
			task := task
			adopted = &task
		}
	}
	if adopted == nil {
		t.Fatalf("remote task %s not adopted", external.RemoteID)
	}
	if adopted.ReminderHandle == "" || sched.Pending() != 1 {
		t.Fatalf("adopted task has no reminder")
	}
	if got := gw.count("delete"); got != 0 {
		t.Fatalf("refresh issued %d remote deletes", got)
	}
}

func TestDeleteWhileCreateInFlight(t *testing.T) {
	gw := newFakeGateway()
	gw.gateCreate()
	m, _, _ := newTestManager(t, gw)

	task, _, err := m.AddTask(AddRequest{Title: "racy"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	<-gw.createStarted
	if _, err := m.DeleteTask(task.ID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	close(gw.releaseCreate)
	syncManager(t, m)

	if got := gw.count("delete"); got != 1 {
		t.Fatalf("remote deletes = %d, want 1", got)
	}
	if remaining, _ := gw.MemoryStore.List(context.Background()); len(remaining) != 0 {
		t.Fatalf("store still holds %d tasks", len(remaining))
	}
}

func TestEditTaskValidatesAndReschedules(t *testing.T) {
	m, _, sched := newTestManager(t, nil)

	due := testStart.Add(time.Hour)
	task, _, err := m.AddTask(AddRequest{Title: "Gym", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	blank := " "
	if _, _, err := m.EditTask(task.ID, Patch{Title: &blank}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("EditTask(blank title) error = %v", err)
	}
	done := true
	if _, _, err := m.EditTask(task.ID, Patch{Completed: &done}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("EditTask(completed) error = %v", err)
	}
	renamed := "Gym session"
	if _, _, err := m.EditTask("missing", Patch{Title: &renamed}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("EditTask(missing) error = %v, want %v", err, ErrTaskNotFound)
	}

	later := due.Add(time.Hour)
	edited, _, err := m.EditTask(task.ID, Patch{DueDate: &later})
	if err != nil {
		t.Fatalf("EditTask() error = %v", err)
	}
	if edited.ReminderHandle == task.ReminderHandle {
		t.Fatalf("reminder not replaced")
	}
	if want := later.Add(-reminder.DefaultLead); !edited.ReminderAt.Equal(want) {
		t.Fatalf("ReminderAt = %v, want %v", edited.ReminderAt, want)
	}
	if sched.Pending() != 1 {
		t.Fatalf("scheduler pending = %d, want 1", sched.Pending())
	}

	cleared, _, err := m.EditTask(task.ID, Patch{ClearDueDate: true})
	if err != nil {
		t.Fatalf("EditTask(clear) error = %v", err)
	}
	if cleared.DueDate != nil || cleared.ReminderHandle != "" || sched.Pending() != 0 {
		t.Fatalf("clearing due date left reminder state: %+v", cleared)
	}
}

func TestSchedulingFailureIsWarning(t *testing.T) {
	clock := timer.NewFake(testStart)
	sched := reminder.NewScheduler(clock, quietNotifier{}, nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m := NewManager(DefaultConfig(), clock, nil, sched, nil)
	t.Cleanup(func() { _ = m.Close() })
	_ = sched.Close()

	due := testStart.Add(time.Hour)
	task, warnings, err := m.AddTask(AddRequest{Title: "still created", DueDate: &due})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	var serr *SchedulingError
	if len(warnings) != 1 || !errors.As(warnings.Err(), &serr) {
		t.Fatalf("warnings = %v, want one SchedulingError", warnings)
	}
	if _, err := m.Get(task.ID); err != nil {
		t.Fatalf("task not created: %v", err)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	events, unsubscribe := m.Subscribe()

	task, _, err := m.AddTask(AddRequest{Title: "observe me"})
	if err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	select {
	case evt := <-events:
		if evt.Type != EventTaskCreated || evt.TaskID != task.ID {
			t.Fatalf("event = %+v, want created for %s", evt, task.ID)
		}
		if len(evt.Snapshot) != 1 || evt.Snapshot[0].ID != task.ID {
			t.Fatalf("snapshot = %+v", evt.Snapshot)
		}
	default:
		t.Fatalf("no event published")
	}

	unsubscribe()
	if _, ok := <-events; ok {
		t.Fatalf("channel open after unsubscribe")
	}
}

func newTestManager(t *testing.T, gw Gateway) (*Manager, *timer.Fake, *reminder.Scheduler) {
	t.Helper()
	return newTestManagerWithConfig(t, DefaultConfig(), gw)
}

func newTestManagerWithConfig(t *testing.T, cfg Config, gw Gateway) (*Manager, *timer.Fake, *reminder.Scheduler) {
	t.Helper()
	clock := timer.NewFake(testStart)
	sched := reminder.NewScheduler(clock, quietNotifier{}, nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m := NewManager(cfg, clock, gw, sched, nil)
	t.Cleanup(func() {
		_ = m.Close()
		_ = sched.Close()
	})
	return m, clock, sched
}

func syncManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
}

func drainUntil(ch <-chan Event, want EventType) bool {
	for {
		select {
		case evt := <-ch:
			if evt.Type == want {
				return true
			}
		default:
			return false
		}
	}
}

type quietNotifier struct{}

func (quietNotifier) Init(context.Context) error { return nil }
func (quietNotifier) Deliver(context.Context, reminder.Reminder) error { return nil }
func (quietNotifier) Close() error { return nil }

type withdrawFailNotifier struct{ quietNotifier }

func (withdrawFailNotifier) Withdraw(context.Context, reminder.Reminder) error {
	return errors.New("push channel gone")
}

// fakeGateway wraps a MemoryStore with call counting and injected failures.
type fakeGateway struct {
	*MemoryStore

	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error

	createStarted chan struct{}
	releaseCreate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		MemoryStore: NewMemoryStore(),
		calls:       make(map[string]int),
		errs:        make(map[string]error),
	}
}

func (g *fakeGateway) fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[op] = err
}

func (g *fakeGateway) gateCreate() {
	g.createStarted = make(chan struct{}, 1)
	g.releaseCreate = make(chan struct{})
}

func (g *fakeGateway) record(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	return g.errs[op]
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) List(ctx context.Context) ([]Task, error) {
	if err := g.record("list"); err != nil {
		return nil, err
	}
	return g.MemoryStore.List(ctx)
}

func (g *fakeGateway) Create(ctx context.Context, task Task) (Task, error) {
	if g.createStarted != nil {
		g.createStarted <- struct{}{}
		<-g.releaseCreate
	}
	if err := g.record("create"); err != nil {
		return Task{}, err
	}
	return g.MemoryStore.Create(ctx, task)
}

func (g *fakeGateway) Update(ctx context.Context, remoteID string, patch Patch) (Task, error) {
	if err := g.record("update"); err != nil {
		return Task{}, err
	}
	return g.MemoryStore.Update(ctx, remoteID, patch)
}

func (g *fakeGateway) Complete(ctx context.Context, remoteID string) (Task, error) {
	if err := g.record("complete"); err != nil {
		return Task{}, err
	}
	return g.MemoryStore.Complete(ctx, remoteID)
}

func (g *fakeGateway) Delete(ctx context.Context, remoteID string) error {
	if err := g.record("delete"); err != nil {
		return err
	}
	return g.MemoryStore.Delete(ctx, remoteID)
}
