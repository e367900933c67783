package rollback

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kubilitics/shipctl/internal/adapter"
	"github.com/kubilitics/shipctl/internal/descriptor"
	"github.com/kubilitics/shipctl/internal/store"
	"github.com/kubilitics/shipctl/internal/transaction"
)

func newFixture(t *testing.T, names ...string) *descriptor.Registry {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		yaml := `
name: ` + name + `
ecosystem: ` + name + `
registry_base_url: http://127.0.0.1:1
metadata_api_url: http://127.0.0.1:1
required_files: ["README"]
auth_scheme: none
rollback_capability: unpublish
rollback_methods:
  - name: unpublish
    command: ["true"]
    timeout: 5s
`
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(yaml), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := descriptor.NewRegistry()
	if err := reg.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	return reg
}

func newCompletedDeployment(t *testing.T, s *store.Store, pkg string, targets ...string) *transaction.Deployment {
	t.Helper()
	d := transaction.NewDeployment(pkg, "1.0.0", transaction.PipelineStandard, targets, time.Now().UTC())
	if err := s.Create(d); err != nil {
		t.Fatal(err)
	}
	for _, name := range targets {
		if err := s.UpdatePlatform(d.ID, name, transaction.PlatformStatus{State: transaction.PlatformCompleted, PreviousVersion: "0.9.0"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Finalize(d.ID, transaction.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestOpenRollsBackSucceededTargets(t *testing.T) {
	reg := newFixture(t, "npm")
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	d := newCompletedDeployment(t, s, "demo", "npm")

	npm := &adapter.FakeAdapter{Name: "npm", RollbackOutcome: adapter.Outcome{Kind: adapter.Completed}}
	ar := adapter.NewRegistry()
	ar.Register(npm)
	e := &Engine{Store: s, Registry: reg, Adapters: ar}

	r, err := e.Open(context.Background(), d.ID, Options{Reason: transaction.ReasonManualTrigger})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Status != transaction.StatusCompleted {
		t.Fatalf("expected rollback completed, got %s", r.Status)
	}
	if npm.RollbackCalls != 1 {
		t.Fatalf("expected one rollback call, got %d", npm.RollbackCalls)
	}
	if r.Platforms["npm"].State != transaction.PlatformCompleted {
		t.Fatalf("expected npm rolled back, got %s", r.Platforms["npm"].State)
	}
}

func TestOpenRecordsUnsupportedAsSkipped(t *testing.T) {
	reg := newFixture(t, "pypi")
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	d := newCompletedDeployment(t, s, "demo", "pypi")

	pypi := &adapter.FakeAdapter{Name: "pypi", RollbackOutcome: adapter.Outcome{Kind: adapter.Unsupported, Message: "no rollback for pypi"}}
	ar := adapter.NewRegistry()
	ar.Register(pypi)
	e := &Engine{Store: s, Registry: reg, Adapters: ar}

	r, err := e.Open(context.Background(), d.ID, Options{Reason: transaction.ReasonManualTrigger})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Status != transaction.StatusCompleted {
		t.Fatalf("an unsupported-but-advisory rollback should not fail the transaction, got %s", r.Status)
	}
	if r.Platforms["pypi"].State != transaction.PlatformSkipped {
		t.Fatalf("expected pypi skipped, got %s", r.Platforms["pypi"].State)
	}
}

func TestOpenFailsTransactionWhenAnyPlatformErrors(t *testing.T) {
	reg := newFixture(t, "cargo")
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	d := newCompletedDeployment(t, s, "demo", "cargo")

	cargo := &adapter.FakeAdapter{Name: "cargo", RollbackOutcome: adapter.Outcome{Kind: adapter.Permanent, Message: "registry rejected yank"}}
	ar := adapter.NewRegistry()
	ar.Register(cargo)
	e := &Engine{Store: s, Registry: reg, Adapters: ar}

	r, err := e.Open(context.Background(), d.ID, Options{Reason: transaction.ReasonManualTrigger})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Status != transaction.StatusFailed {
		t.Fatalf("expected rollback failed, got %s", r.Status)
	}
}

func TestTriggerAutoRollbackImplementsPipelineInterface(t *testing.T) {
	reg := newFixture(t, "npm")
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	d := newCompletedDeployment(t, s, "demo", "npm")

	npm := &adapter.FakeAdapter{Name: "npm", RollbackOutcome: adapter.Outcome{Kind: adapter.Completed}}
	ar := adapter.NewRegistry()
	ar.Register(npm)
	e := &Engine{Store: s, Registry: reg, Adapters: ar}

	id, err := e.TriggerAutoRollback(context.Background(), d.ID, []string{"npm"}, transaction.ReasonStageFailed)
	if err != nil {
		t.Fatalf("TriggerAutoRollback: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a rollback id")
	}
}
