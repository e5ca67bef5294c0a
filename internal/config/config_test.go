package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadAppliesSchedulerDefaults(t *testing.T) {
	t.Setenv("RECURRING_SCHEDULE", "")
	t.Setenv("RECURRING_CONCURRENCY", "0")
	t.Setenv("TIMEZONE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RecurringConcurrency != 1 {
		t.Fatalf("expected concurrency clamped to 1, got %d", cfg.RecurringConcurrency)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC location, got %v (%v)", loc, err)
	}
	if cfg.RecurringLockTTL() != 60*time.Second {
		t.Fatalf("expected 60s lock ttl, got %s", cfg.RecurringLockTTL())
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RECURRING_SCHEDULE", "*/5 * * * *")
	t.Setenv("TIMEZONE", "Asia/Jakarta")
	t.Setenv("SCHEDULER_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Address())
	}
	if cfg.RecurringSchedule != "*/5 * * * *" {
		t.Fatalf("unexpected schedule %q", cfg.RecurringSchedule)
	}
	if cfg.SchedulerEnabled {
		t.Fatalf("expected scheduler disabled")
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Jakarta" {
		t.Fatalf("expected Asia/Jakarta, got %v (%v)", loc, err)
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}
