package descriptor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const npmYAML = `
name: npm
ecosystem: javascript
registry_base_url: https://registry.npmjs.org
metadata_api_url: https://registry.npmjs.org/{package}
required_files: [package.json]
auth_scheme: bearer_token
rollback_capability: unpublish
rollback_methods:
  - name: npm-unpublish
    command: [npm, unpublish, "{package}@{version}", --force]
    timeout: 30s
    requires_confirmation: true
`

const pypiYAML = `
name: pypi
ecosystem: python
registry_base_url: https://pypi.org
metadata_api_url: https://pypi.org/pypi/{package}/json
required_files: [pyproject.toml]
auth_scheme: bearer_token
rollback_capability: none
rollback_methods: []
`

func writeDescriptor(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
}

func TestLoadDirAndGet(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "npm.yaml", npmYAML)
	writeDescriptor(t, dir, "pypi.yaml", pypiYAML)

	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	p, err := r.Get("npm")
	if err != nil {
		t.Fatalf("Get(npm): %v", err)
	}
	if p.RollbackCapability != RollbackUnpublish {
		t.Fatalf("expected unpublish, got %s", p.RollbackCapability)
	}
	if _, err := r.Get("cargo"); err == nil {
		t.Fatalf("expected ErrNotFound for unknown platform")
	}
	if len(r.List()) != 2 {
		t.Fatalf("expected 2 platforms, got %d", len(r.List()))
	}
}

func TestLoadDirRejectsInvalidRollbackMethods(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "bad.yaml", `
name: bad
ecosystem: x
registry_base_url: https://example.com
metadata_api_url: https://example.com/{package}
required_files: [manifest.json]
auth_scheme: none
rollback_capability: none
rollback_methods:
  - name: should-not-exist
    command: [true]
`)
	r := NewRegistry()
	if err := r.LoadDir(dir); err == nil {
		t.Fatalf("expected error: rollback_capability=none must have no methods")
	}
}

func TestHealthCheckClassifiesStatus(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	dir := t.TempDir()
	writeDescriptor(t, dir, "npm.yaml", npmYAML)
	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	p, _ := r.Get("npm")
	p.HealthURL = ok.URL
	r.mu.Lock()
	r.platforms["npm"] = p
	r.mu.Unlock()

	h, err := r.HealthCheck(context.Background(), "npm")
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if h.Status != HealthOK {
		t.Fatalf("expected ok, got %s", h.Status)
	}

	p.HealthURL = down.URL
	r.mu.Lock()
	r.platforms["npm"] = p
	delete(r.healthCache, "npm")
	r.mu.Unlock()
	h2, err := r.HealthCheck(context.Background(), "npm")
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if h2.Status != HealthDown {
		t.Fatalf("expected down, got %s", h2.Status)
	}
}
