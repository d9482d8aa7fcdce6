package config

import (
	"runtime"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("expected listen_addr %s, got %s", DefaultListenAddr, cfg.ListenAddr)
	}
	if cfg.WorkerThreads != runtime.NumCPU() {
		t.Errorf("expected worker_threads %d, got %d", runtime.NumCPU(), cfg.WorkerThreads)
	}
	if cfg.RequestTimeoutMs != DefaultRequestTimeoutMs {
		t.Errorf("expected request_timeout_ms %d, got %d", DefaultRequestTimeoutMs, cfg.RequestTimeoutMs)
	}
	if cfg.Ban.MaxBackoffPow != 6 {
		t.Errorf("expected max_backoff_pow 6, got %d", cfg.Ban.MaxBackoffPow)
	}
	if cfg.Ban.AuthErrorMs != 86_400_000 {
		t.Errorf("expected auth_error_ms 86400000, got %d", cfg.Ban.AuthErrorMs)
	}
}

func TestValidateRequiresAdminTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Upstreams = []UpstreamConfig{{ID: "a", BaseURL: "http://localhost:11434", Weight: 1}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty admin_tokens, got nil")
	}

	cfg.AdminTokens = []string{"secret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error with admin_tokens set, got %v", err)
	}
}

func TestValidateRejectsDuplicateUpstreamIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminTokens = []string{"secret"}
	cfg.Upstreams = []UpstreamConfig{
		{ID: "a", BaseURL: "http://localhost:11434", Weight: 1},
		{ID: "a", BaseURL: "http://localhost:11435", Weight: 1},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate upstream id, got nil")
	}
}

func TestValidateRejectsZeroWeight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminTokens = []string{"secret"}
	cfg.Upstreams = []UpstreamConfig{{ID: "a", BaseURL: "http://localhost:11434", Weight: 0}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero weight, got nil")
	}
}
