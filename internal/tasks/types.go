package tasks

import (
	"strings"
	"time"

	"github.com/ent0n29/taskpulse/internal/reminder"
)

type Task struct {
	ID             string          `json:"id"`
	RemoteID       string          `json:"remote_id,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	Completed      bool            `json:"completed"`
	ReminderHandle reminder.Handle `json:"reminder_handle,omitempty"`
	ReminderAt     *time.Time      `json:"reminder_at,omitempty"`
	DeleteAt       *time.Time      `json:"delete_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type AddRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched; ClearDueDate
// removes the due date and wins over DueDate.
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	ClearDueDate bool       `json:"clear_due_date,omitempty"`
	Completed    *bool      `json:"completed,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil && !p.ClearDueDate && p.Completed == nil
}

func (p Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		t.DueDate = cloneTime(p.DueDate)
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}

type EventType string

const (
	EventTaskCreated       EventType = "task_created"
	EventTaskUpdated       EventType = "task_updated"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskReopened      EventType = "task_reopened"
	EventTaskDeleted       EventType = "task_deleted"
	EventTaskSynced        EventType = "task_synced"
	EventTaskRolledBack    EventType = "task_rolled_back"
	EventReminderFired     EventType = "reminder_fired"
	EventRemoteError       EventType = "remote_error"
	EventSchedulingWarning EventType = "scheduling_warning"
	EventTasksRefreshed    EventType = "tasks_refreshed"
)

// Event is published to subscribers after every change to the task set.
// Snapshot is the full ordered task list at the time of the event.
type Event struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"task_id,omitempty"`
	Task     *Task     `json:"task,omitempty"`
	Code     string    `json:"code,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Snapshot []Task    `json:"snapshot"`
	At       time.Time `json:"at"`
}

func (t Task) Clone() Task {
	out := t
	out.DueDate = cloneTime(t.DueDate)
	out.ReminderAt = cloneTime(t.ReminderAt)
	out.DeleteAt = cloneTime(t.DeleteAt)
	return out
}

// PendingDeletion reports whether a deferred deletion is scheduled.
func (t Task) PendingDeletion() bool {
	return t.DeleteAt != nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
