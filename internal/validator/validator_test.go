package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kubilitics/shipctl/internal/descriptor"
)

func setupRegistry(t *testing.T) *descriptor.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "npm.yaml"), []byte(`
name: npm
ecosystem: javascript
registry_base_url: https://registry.npmjs.org
metadata_api_url: https://registry.npmjs.org/{package}
required_files: [package.json, LICENSE]
version_locator_file: package.json
auth_scheme: bearer_token
rollback_capability: unpublish
rollback_methods:
  - name: npm-unpublish
    command: [npm, unpublish]
    requires_confirmation: true
`), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	r := descriptor.NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	return r
}

func TestValidateMissingRequiredFile(t *testing.T) {
	reg := setupRegistry(t)
	work := t.TempDir()
	report := Validate(context.Background(), reg, Options{WorkTree: work, Targets: []string{"npm"}})
	if !report.Failed() {
		t.Fatalf("expected failure for missing required files")
	}
}

func TestValidatePassesWithRequiredFilesPresent(t *testing.T) {
	reg := setupRegistry(t)
	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, "package.json"), []byte(`{"name":"demo","version":"1.0.0"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(work, "LICENSE"), []byte("MIT"), 0o644); err != nil {
		t.Fatal(err)
	}
	report := Validate(context.Background(), reg, Options{WorkTree: work, Targets: []string{"npm"}})
	if report.Failed() {
		t.Fatalf("expected no required failures, got %+v", report.Findings)
	}
}

func TestValidateUnknownPlatformIsRequiredFailure(t *testing.T) {
	reg := setupRegistry(t)
	report := Validate(context.Background(), reg, Options{WorkTree: t.TempDir(), Targets: []string{"does-not-exist"}})
	if !report.Failed() {
		t.Fatalf("expected unknown platform to be a required failure")
	}
}
