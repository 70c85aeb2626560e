package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the task service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// SyncMode selects the task store: auto, http, postgres, memory or local.
	SyncMode       string
	RemoteURL      string
	RemoteTimeout  time.Duration
	CompleteMethod string
	DatabaseURL    string

	RefreshOnStart  bool
	RefreshRetries  int
	RefreshBackoff  time.Duration
	TombstoneWindow time.Duration

	RemindersEnabled bool
	ReminderLead     time.Duration
	// ReminderNotifier is log, websocket, both or none.
	ReminderNotifier string
	DeleteDelay      time.Duration

	StoreBindAddr string
	StoreBackend  string
}

// LoadDotEnv reads KEY=value files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "taskpulse"),
		AllowAnyOrigin:   false,
		SyncMode:         strings.ToLower(envOrDefault("TASKS_SYNC_MODE", "auto")),
		RemoteURL:        stringsTrimSpace("TASKS_REMOTE_URL"),
		CompleteMethod:   strings.ToUpper(envOrDefault("TASKS_COMPLETE_METHOD", "PUT")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		ReminderNotifier: strings.ToLower(envOrDefault("REMINDER_NOTIFIER", "both")),
		StoreBindAddr:    envOrDefault("TASKSTORE_BIND_ADDR", ":8081"),
		StoreBackend:     strings.ToLower(envOrDefault("TASKSTORE_BACKEND", "auto")),
		ShutdownTimeout:  15 * time.Second,
		RemoteTimeout:    5 * time.Second,
		RefreshOnStart:   true,
		RefreshRetries:   5,
		RefreshBackoff:   500 * time.Millisecond,
		TombstoneWindow:  time.Minute,
		RemindersEnabled: true,
		ReminderLead:     15 * time.Minute,
		DeleteDelay:      3 * time.Second,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"TASKS_REMOTE_TIMEOUT", &cfg.RemoteTimeout},
		{"TASKS_REFRESH_BACKOFF", &cfg.RefreshBackoff},
		{"TASKS_TOMBSTONE_WINDOW", &cfg.TombstoneWindow},
		{"REMINDER_LEAD", &cfg.ReminderLead},
		{"TASKS_DELETE_DELAY", &cfg.DeleteDelay},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	cfg.RefreshRetries, err = intFromEnv("TASKS_REFRESH_RETRIES", cfg.RefreshRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RefreshOnStart, err = boolFromEnv("TASKS_REFRESH_ON_START", cfg.RefreshOnStart)
	if err != nil {
		return Config{}, err
	}
	cfg.RemindersEnabled, err = boolFromEnv("REMINDERS_ENABLED", cfg.RemindersEnabled)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.SyncMode {
	case "auto", "http", "postgres", "memory", "local":
	default:
		return fmt.Errorf("TASKS_SYNC_MODE must be one of auto, http, postgres, memory, local")
	}
	if c.SyncMode == "http" && c.RemoteURL == "" {
		return fmt.Errorf("TASKS_REMOTE_URL is required when TASKS_SYNC_MODE=http")
	}
	if c.SyncMode == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when TASKS_SYNC_MODE=postgres")
	}
	switch c.CompleteMethod {
	case "PUT", "POST", "PATCH":
	default:
		return fmt.Errorf("TASKS_COMPLETE_METHOD must be PUT, POST or PATCH")
	}
	switch c.ReminderNotifier {
	case "log", "websocket", "both", "none":
	default:
		return fmt.Errorf("REMINDER_NOTIFIER must be one of log, websocket, both, none")
	}
	switch c.StoreBackend {
	case "auto", "memory", "postgres":
	default:
		return fmt.Errorf("TASKSTORE_BACKEND must be one of auto, memory, postgres")
	}
	if c.RemoteTimeout < 100*time.Millisecond {
		return fmt.Errorf("TASKS_REMOTE_TIMEOUT must be at least 100ms")
	}
	if c.DeleteDelay <= 0 {
		return fmt.Errorf("TASKS_DELETE_DELAY must be positive")
	}
	if c.ReminderLead < 0 {
		return fmt.Errorf("REMINDER_LEAD must be >= 0")
	}
	if c.RefreshRetries < 0 {
		return fmt.Errorf("TASKS_REFRESH_RETRIES must be >= 0")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
