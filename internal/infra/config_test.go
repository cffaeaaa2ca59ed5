package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("BATCH_CONCURRENCY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: %q", cfg.StorageBaseURL)
	}
	if cfg.BatchConcurrency != 2 || cfg.BatchMaxSize != 10 || cfg.MaxAttempts != 3 {
		t.Fatalf("batch defaults mismatch: %#v", cfg)
	}
	if cfg.JobRetention != 24*time.Hour || cfg.FeedInterval != 500*time.Millisecond {
		t.Fatalf("retention defaults mismatch: %#v", cfg)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/static" {
		t.Fatalf("StorageBaseURL mismatch: %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigRejectsNonPositiveConcurrency(t *testing.T) {
	t.Setenv("BATCH_CONCURRENCY", "-1")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for negative concurrency")
	}
}
