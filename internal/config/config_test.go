package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	m := NewManager("")
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.Get().Concurrency != 5 {
		t.Fatalf("expected default concurrency 5, got %d", m.Get().Concurrency)
	}
}

func TestLoadReadsFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shipctl.yaml")
	if err := os.WriteFile(path, []byte("concurrency: 8\ndata_dir: /tmp/custom\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get().Concurrency != 8 {
		t.Fatalf("expected file override concurrency 8, got %d", m.Get().Concurrency)
	}
	if m.Get().DataDir != "/tmp/custom" {
		t.Fatalf("expected file override data_dir, got %q", m.Get().DataDir)
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("SHIPCTL_CONCURRENCY", "3")
	m := NewManager("")
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get().Concurrency != 3 {
		t.Fatalf("expected env override concurrency 3, got %d", m.Get().Concurrency)
	}
}

func TestValidateRejectsBadCredentialBackend(t *testing.T) {
	m := NewManager("")
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.Get().CredentialBackend = "bogus"
	if err := m.Validate(); err == nil {
		t.Fatalf("expected validation error for bogus credential_backend")
	}
}
