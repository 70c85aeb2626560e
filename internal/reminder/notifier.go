package reminder

import (
	"context"
	"errors"
	"log"
)

// Notifier is the delivery capability behind the scheduler. Init runs once
// before the first reminder is accepted and Close runs on shutdown.
type Notifier interface {
	Init(ctx context.Context) error
	Deliver(ctx context.Context, r Reminder) error
	Close() error
}

// Withdrawer is implemented by notifiers that announce reminders ahead of
// time and must be told when one is cancelled.
type Withdrawer interface {
	Withdraw(ctx context.Context, r Reminder) error
}

// LogNotifier writes fired reminders to the process log.
type LogNotifier struct{}

func (LogNotifier) Init(context.Context) error { return nil }

func (LogNotifier) Deliver(_ context.Context, r Reminder) error {
	log.Printf("reminder: task %s %q due %s", r.TaskID, r.Payload.Title, r.Payload.DueDate.Format("2006-01-02 15:04"))
	return nil
}

func (LogNotifier) Close() error { return nil }

// Fanout delivers to every notifier in order and joins their errors.
type Fanout []Notifier

func (f Fanout) Init(ctx context.Context) error {
	var errs []error
	for _, n := range f {
		if err := n.Init(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Deliver(ctx context.Context, r Reminder) error {
	var errs []error
	for _, n := range f {
		if err := n.Deliver(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Withdraw(ctx context.Context, r Reminder) error {
	var errs []error
	for _, n := range f {
		w, ok := n.(Withdrawer)
		if !ok {
			continue
		}
		if err := w.Withdraw(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, n := range f {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
