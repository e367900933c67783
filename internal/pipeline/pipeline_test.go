package pipeline

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

// newFixture builds a workTree with the one required file every test
// descriptor declares, plus a descriptor registry seeded with minimal,
// individually-valid descriptors for the given platform names. Health
// checks are pointed at a closed local port so they fail fast instead
// of reaching the network, and are never required since StrictHealth
// defaults to false.
func newFixture(t *testing.T, names ...string) (*descriptor.Registry, string) {
	t.Helper()
	workTree := t.TempDir()
	if err := os.WriteFile(filepath.Join(workTree, "README"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := descriptor.NewRegistry()
	dir := t.TempDir()
	for _, name := range names {
		yaml := `
name: ` + name + `
ecosystem: ` + name + `
registry_base_url: http://127.0.0.1:1
metadata_api_url: http://127.0.0.1:1
required_files: ["README"]
auth_scheme: none
rollback_capability: none
`
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(yaml), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	return reg, workTree
}

func newExecutor(t *testing.T, reg *descriptor.Registry, adapters ...adapter.Adapter) (*Executor, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ar := adapter.NewRegistry()
	for _, a := range adapters {
		ar.Register(a)
	}
	return &Executor{Store: s, Registry: reg, Adapters: ar}, s
}

func TestHappyParallelDeploy(t *testing.T) {
	reg, workTree := newFixture(t, "npm", "pypi")
	npm := &adapter.FakeAdapter{Name: "npm", DeployOutcome: adapter.Outcome{Kind: adapter.Completed}}
	pypi := &adapter.FakeAdapter{Name: "pypi", DeployOutcome: adapter.Outcome{Kind: adapter.Completed}}
	exec, _ := newExecutor(t, reg, npm, pypi)

	d, err := exec.Run(context.Background(), Request{
		Package: "demo", Version: "1.0.0", Pipeline: transaction.PipelineParallel,
		Targets: []string{"npm", "pypi"}, WorkTree: workTree,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Status != transaction.StatusCompleted {
		t.Fatalf("expected completed, got %s (errors=%v)", d.Status, d.Errors)
	}
	if npm.DeployCalls != 1 || pypi.DeployCalls != 1 {
		t.Fatalf("expected exactly one deploy call per target, got npm=%d pypi=%d", npm.DeployCalls, pypi.DeployCalls)
	}
}

func TestVersionConflictFailsDeployStage(t *testing.T) {
	reg, workTree := newFixture(t, "npm")
	npm := &adapter.FakeAdapter{Name: "npm", DeployOutcome: adapter.Outcome{Kind: adapter.Permanent, Message: "409 version already published"}}
	exec, _ := newExecutor(t, reg, npm)

	d, err := exec.Run(context.Background(), Request{
		Package: "demo", Version: "1.0.0", Pipeline: transaction.PipelineStandard,
		Targets: []string{"npm"}, WorkTree: workTree,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Status != transaction.StatusFailed {
		t.Fatalf("expected failed, got %s", d.Status)
	}
	if npm.DeployCalls != 1 {
		t.Fatalf("a permanent outcome must not be retried, got %d calls", npm.DeployCalls)
	}
}

func TestPropagationDelayResolvesDuringVerify(t *testing.T) {
	reg, workTree := newFixture(t, "npm")
	npm := &adapter.FakeAdapter{
		Name:          "npm",
		DeployOutcome: adapter.Outcome{Kind: adapter.Completed},
		VerifyOutcomes: []adapter.Outcome{
			{Kind: adapter.Transient, Message: "not found yet"},
			{Kind: adapter.Transient, Message: "not found yet"},
			{Kind: adapter.Completed},
		},
	}
	exec, _ := newExecutor(t, reg, npm)

	d, err := exec.Run(context.Background(), Request{
		Package: "demo", Version: "1.0.0", Pipeline: transaction.PipelineStandard,
		Targets: []string{"npm"}, WorkTree: workTree,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Status != transaction.StatusCompleted {
		t.Fatalf("expected completed once metadata propagates, got %s", d.Status)
	}
}

func TestUnsupportedRollbackDowngradesCleanly(t *testing.T) {
	reg, workTree := newFixture(t, "pypi")
	pypi := &adapter.FakeAdapter{
		Name:            "pypi",
		DeployOutcome:   adapter.Outcome{Kind: adapter.Completed},
		RollbackOutcome: adapter.Outcome{Kind: adapter.Unsupported, Message: "pypi has no rollback"},
	}
	exec, _ := newExecutor(t, reg, pypi)
	res := pypi.Rollback(context.Background(), "demo", "1.0.0", "0.9.0", false)
	if res.Outcome.Kind != adapter.Unsupported {
		t.Fatalf("expected unsupported, got %s", res.Outcome.Kind)
	}
	_ = exec
	_ = workTree
}

type fakeTrigger struct {
	called    bool
	platforms []string
}

func (f *fakeTrigger) TriggerAutoRollback(ctx context.Context, deploymentID string, platforms []string, reason transaction.RollbackReason) (string, error) {
	f.called = true
	f.platforms = platforms
	return transaction.NewID(), nil
}

func TestStagedFailureTriggersAutoRollbackOfSucceededStaging(t *testing.T) {
	reg, workTree := newFixture(t, "npm", "pypi")
	staging, err := reg.Get("npm")
	if err != nil {
		t.Fatal(err)
	}
	staging.StageSet = "staging"
	prod, err := reg.Get("pypi")
	if err != nil {
		t.Fatal(err)
	}
	prod.StageSet = "production"
	dir := t.TempDir()
	writeDescriptorFixture(t, dir, staging)
	writeDescriptorFixture(t, dir, prod)
	if err := reg.LoadDir(dir); err != nil {
		t.Fatal(err)
	}

	npmAdapter := &adapter.FakeAdapter{Name: "npm", DeployOutcome: adapter.Outcome{Kind: adapter.Completed}}
	pypiAdapter := &adapter.FakeAdapter{
		Name:          "pypi",
		DeployOutcome: adapter.Outcome{Kind: adapter.Permanent, Message: "rejected"},
	}
	trigger := &fakeTrigger{}
	exec, _ := newExecutor(t, reg, npmAdapter, pypiAdapter)
	exec.Rollback = trigger

	d, err := exec.Run(context.Background(), Request{
		Package: "demo", Version: "1.0.0", Pipeline: transaction.PipelineStaged,
		Targets: []string{"npm", "pypi"}, WorkTree: workTree, AutoRollback: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Status != transaction.StatusRolledBack {
		t.Fatalf("expected rolled_back, got %s", d.Status)
	}
	if !trigger.called {
		t.Fatalf("expected auto-rollback to be triggered")
	}
	if len(trigger.platforms) != 1 || trigger.platforms[0] != "npm" {
		t.Fatalf("expected rollback against the succeeded staging platform only, got %v", trigger.platforms)
	}
}

func TestCancelSetsCancelRequestedFlag(t *testing.T) {
	reg, workTree := newFixture(t, "npm", "pypi", "cargo")
	npm := &adapter.FakeAdapter{Name: "npm", DeployOutcome: adapter.Outcome{Kind: adapter.Completed}}
	pypi := &adapter.FakeAdapter{Name: "pypi", DeployOutcome: adapter.Outcome{Kind: adapter.Completed}}
	cargo := &adapter.FakeAdapter{Name: "cargo", DeployOutcome: adapter.Outcome{Kind: adapter.Completed}}
	exec, s := newExecutor(t, reg, npm, pypi, cargo)

	d := transaction.NewDeployment("demo", "1.0.0", transaction.PipelineParallel, []string{"npm", "pypi", "cargo"}, time.Now().UTC())
	if err := s.Create(d); err != nil {
		t.Fatal(err)
	}
	if err := exec.Cancel(d.ID); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CancelRequested {
		t.Fatalf("expected cancel flag to be set")
	}
	_ = workTree
}

func writeDescriptorFixture(t *testing.T, dir string, p descriptor.Platform) {
	t.Helper()
	yaml := `
name: ` + p.Name + `
ecosystem: ` + p.Ecosystem + `
registry_base_url: ` + p.RegistryBaseURL + `
metadata_api_url: ` + p.MetadataAPIURL + `
required_files: ["README"]
auth_scheme: none
rollback_capability: none
stage_set: ` + p.StageSet + `
`
	if err := os.WriteFile(filepath.Join(dir, p.Name+".yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
}
