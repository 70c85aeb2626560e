package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Gateway is the remote task store. Tasks it returns carry RemoteID and the
// user-editable fields only; local ids and timer state never cross it.
// Implementations do not retry and may return plain errors; the Manager
// wraps every failure as *RemoteError.
type Gateway interface {
	List(ctx context.Context) ([]Task, error)
	Create(ctx context.Context, task Task) (Task, error)
	Update(ctx context.Context, remoteID string, patch Patch) (Task, error)
	Complete(ctx context.Context, remoteID string) (Task, error)
	Delete(ctx context.Context, remoteID string) error
	Close() error
}

// Store is a Gateway that can also fetch one task. The in-memory and
// Postgres backends implement it and can back the reference REST server.
type Store interface {
	Gateway
	Get(ctx context.Context, remoteID string) (Task, error)
}

const (
	SyncAuto     = "auto"
	SyncHTTP     = "http"
	SyncPostgres = "postgres"
	SyncMemory   = "memory"
	SyncLocal    = "local"
)

type GatewayConfig struct {
	Mode           string
	RemoteURL      string
	Timeout        time.Duration
	CompleteMethod string
	DatabaseURL    string
}

// NewGateway picks a backend from cfg. A nil Gateway with a nil error means
// the manager runs local-only.
func NewGateway(ctx context.Context, cfg GatewayConfig) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" || mode == SyncAuto {
		switch {
		case strings.TrimSpace(cfg.RemoteURL) != "":
			mode = SyncHTTP
		case strings.TrimSpace(cfg.DatabaseURL) != "":
			mode = SyncPostgres
		default:
			mode = SyncLocal
		}
	}

	switch mode {
	case SyncHTTP:
		g, err := NewHTTPGateway(cfg.RemoteURL, HTTPGatewayOptions{
			Timeout:        cfg.Timeout,
			CompleteMethod: cfg.CompleteMethod,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	case SyncPostgres:
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case SyncMemory:
		return NewMemoryStore(), nil
	case SyncLocal:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown sync mode %q", cfg.Mode)
	}
}
