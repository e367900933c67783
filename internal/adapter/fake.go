package adapter

import (
	"context"

	"github.com/kubilitics/shipctl/internal/credential"
)

// FakeAdapter is an in-process adapter used by the pipeline, rollback
// and end-to-end scenario tests to simulate registry behaviors
// literally described in the testable-properties scenarios (a 503 on
// deploy, a metadata API that 404s for a while, a pre-published
// version conflict) without shelling out to real tools.
type FakeAdapter struct {
	Name string

	DeployOutcome   Outcome
	DeployURL       string
	VerifyOutcomes  []Outcome // consumed in order, one per Verify call; last is reused once exhausted
	RollbackOutcome Outcome

	verifyCalls int
	DeployCalls int
	RollbackCalls int
}

func (f *FakeAdapter) Platform() string { return f.Name }

func (f *FakeAdapter) Init(ctx context.Context, h credential.Handle) error { return nil }

func (f *FakeAdapter) Validate(ctx context.Context, workTree, requestedVersion string) (string, Outcome) {
	if requestedVersion != "" {
		return requestedVersion, Outcome{Kind: Completed}
	}
	return "0.0.1", Outcome{Kind: Completed}
}

func (f *FakeAdapter) Build(ctx context.Context, workTree, version string) (Artifact, Outcome) {
	return Artifact{Paths: []string{workTree}}, Outcome{Kind: Completed}
}

func (f *FakeAdapter) Deploy(ctx context.Context, workTree string, artifact Artifact) (string, Outcome) {
	f.DeployCalls++
	return f.DeployURL, f.DeployOutcome
}

func (f *FakeAdapter) Verify(ctx context.Context, pkg, version string) VerifyResult {
	idx := f.verifyCalls
	f.verifyCalls++
	if len(f.VerifyOutcomes) == 0 {
		return VerifyResult{Outcome: Outcome{Kind: Completed}}
	}
	if idx >= len(f.VerifyOutcomes) {
		idx = len(f.VerifyOutcomes) - 1
	}
	return VerifyResult{Outcome: f.VerifyOutcomes[idx]}
}

func (f *FakeAdapter) Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) RollbackResult {
	f.RollbackCalls++
	return RollbackResult{Outcome: f.RollbackOutcome, MethodUsed: "fake"}
}
