package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "trace"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := Default()
	cfg.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	cfg.DSN = "postgres://localhost/events"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Default()
	cfg.MaxWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WFRUNNER_DB", "/tmp/ledger.db")
	t.Setenv("WFRUNNER_MAX_WORKERS", "8")
	t.Setenv("WFRUNNER_BACKOFF", "250ms")
	t.Setenv("WFRUNNER_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.DBPath != "/tmp/ledger.db" || cfg.MaxWorkers != 8 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Backoff != 250*time.Millisecond {
		t.Fatalf("backoff = %s, want 250ms", cfg.Backoff)
	}
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("http addr = %q, want default", cfg.HTTPAddr)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("WFRUNNER_MAX_WORKERS", "many")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for non-integer workers")
	}
}

func TestLoadFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("WFRUNNER_BACKOFF", "soon")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
