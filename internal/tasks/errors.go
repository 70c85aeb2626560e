package tasks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/taskpulse/internal/reliability"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrStoreNotFound  = errors.New("task not found in store")
	ErrManagerClosed  = errors.New("task manager closed")
	ErrInvalidRequest = errors.New("invalid task request")
)

// ValidationError rejects an intent before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.TaskID)
}

func (e *NotFoundError) Unwrap() error { return ErrTaskNotFound }

// RemoteError reports a failed task store call. Status is the HTTP status
// when the store answered over HTTP, zero otherwise.
type RemoteError struct {
	Op     string
	TaskID string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("remote ")
	b.WriteString(e.Op)
	if e.TaskID != "" {
		b.WriteString(" task ")
		b.WriteString(e.TaskID)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Retryable classifies the failure for callers that implement a retry policy.
// The gateway itself never retries.
func (e *RemoteError) Retryable() bool {
	if e.Status != 0 {
		return reliability.IsRetryableHTTPStatus(e.Status)
	}
	return !errors.Is(e.Err, ErrStoreNotFound)
}

// SchedulingError reports a reminder or deferred-deletion timer that could
// not be registered. The task transition still happens.
type SchedulingError struct {
	TaskID string
	Kind   string
	Err    error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s for task %s: %v", e.Kind, e.TaskID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// Warnings are non-fatal degradations of an otherwise successful operation.
type Warnings []error

func (w Warnings) Err() error {
	return errors.Join(w...)
}

func (w Warnings) Strings() []string {
	if len(w) == 0 {
		return nil
	}
	out := make([]string, 0, len(w))
	for _, err := range w {
		out = append(out, err.Error())
	}
	return out
}

func asRemoteError(op, taskID string, err error) *RemoteError {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Op: op, TaskID: taskID, Err: err}
}
