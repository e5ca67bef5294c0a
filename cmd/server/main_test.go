package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"invoiceshelf/backend/internal/config"
	"invoiceshelf/backend/internal/domain"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", AllowedOrigin: "http://localhost:3000"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsWildcardOrigin(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, AllowedOrigin: "*"})
	if err == nil {
		t.Fatalf("expected wildcard origin to be rejected")
	}
}

func TestValidateSecurityConfigRejectsBadSchedule(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:        strongSecret,
		AllowedOrigin:     "http://localhost:3000",
		SchedulerEnabled:  true,
		RecurringSchedule: "every hour",
	})
	if err == nil || !strings.Contains(err.Error(), "RECURRING_SCHEDULE") {
		t.Fatalf("expected invalid schedule error, got %v", err)
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:        strongSecret,
		AllowedOrigin:     "http://localhost:3000",
		SchedulerEnabled:  true,
		RecurringSchedule: "0 * * * *",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"serve", "trigger", "migrate"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Fatalf("expected %s subcommand, got %v (err %v)", name, sub, err)
		}
	}
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_OUTPUT", "stderr")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestTriggerCommandPrintsResult(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_OUTPUT", "stderr")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"trigger"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	var result domain.TriggerResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decode trigger output: %v (%s)", err, out.String())
	}
	if len(result.Generated) != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected empty run on a fresh store, got %+v", result)
	}
	if result.RanAt.IsZero() {
		t.Fatalf("expected ranAt to be set")
	}
}
