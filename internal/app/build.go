package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ent0n29/taskpulse/internal/config"
	"github.com/ent0n29/taskpulse/internal/httpapi"
	"github.com/ent0n29/taskpulse/internal/observability"
	"github.com/ent0n29/taskpulse/internal/reliability"
	"github.com/ent0n29/taskpulse/internal/reminder"
	"github.com/ent0n29/taskpulse/internal/tasks"
	"github.com/ent0n29/taskpulse/internal/timer"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Manager   *tasks.Manager
	Reminders *reminder.Scheduler
	Hub       *httpapi.Hub
	Metrics   *observability.Metrics

	// Cleanup stops background work and releases the store connection.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	gateway, err := tasks.NewGateway(ctx, tasks.GatewayConfig{
		Mode:           cfg.SyncMode,
		RemoteURL:      cfg.RemoteURL,
		Timeout:        cfg.RemoteTimeout,
		CompleteMethod: cfg.CompleteMethod,
		DatabaseURL:    cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("task store init failed: %w", err)
	}

	clock := timer.NewReal()
	hub := httpapi.NewHub(metrics)

	var scheduler *reminder.Scheduler
	if cfg.RemindersEnabled {
		notifier, err := buildNotifier(cfg.ReminderNotifier, hub)
		if err != nil {
			closeGateway(gateway)
			clock.Close()
			return nil, err
		}
		scheduler = reminder.NewScheduler(clock, notifier, metrics)
		if err := scheduler.Start(ctx); err != nil {
			closeGateway(gateway)
			clock.Close()
			return nil, fmt.Errorf("reminder scheduler init failed: %w", err)
		}
	}

	manager := tasks.NewManager(tasks.Config{
		ReminderLead:    cfg.ReminderLead,
		DeleteDelay:     cfg.DeleteDelay,
		RemoteTimeout:   cfg.RemoteTimeout,
		TombstoneWindow: cfg.TombstoneWindow,
	}, clock, gateway, scheduler, metrics)

	events, unsubscribe := manager.Subscribe()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx, events)

	api := httpapi.New(cfg, manager, hub, metrics)

	cleanup := func() error {
		var errs []string
		hubCancel()
		unsubscribe()
		if err := manager.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if scheduler != nil {
			if err := scheduler.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := hub.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if gateway != nil {
			if err := gateway.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		clock.Close()
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Manager:   manager,
		Reminders: scheduler,
		Hub:       hub,
		Metrics:   metrics,
		Cleanup:   cleanup,
	}, nil
}

// InitialRefresh loads the remote task set, retrying transient failures.
func (b *BuildResult) InitialRefresh(ctx context.Context) error {
	if !b.Config.RefreshOnStart || !b.Manager.Remote() {
		return nil
	}
	policy := reliability.RetryPolicy{
		Attempts: b.Config.RefreshRetries + 1,
		Base:     b.Config.RefreshBackoff,
		Cap:      8 * b.Config.RefreshBackoff,
	}
	attempt := 0
	return reliability.Retry(ctx, policy, func(ctx context.Context) error {
		attempt++
		err := b.Manager.Refresh(ctx)
		if err != nil {
			log.Printf("initial task refresh attempt %d failed: %v", attempt, err)
		}
		return err
	})
}

func buildNotifier(mode string, hub *httpapi.Hub) (reminder.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "both":
		return reminder.Fanout{reminder.LogNotifier{}, hub}, nil
	case "log":
		return reminder.LogNotifier{}, nil
	case "websocket":
		return hub, nil
	case "none":
		return reminder.Fanout{}, nil
	default:
		return nil, fmt.Errorf("invalid reminder notifier %q (expected log|websocket|both|none)", mode)
	}
}

func closeGateway(g tasks.Gateway) {
	if g == nil {
		return
	}
	if err := g.Close(); err != nil {
		log.Printf("task store close failed: %v", err)
	}
}
