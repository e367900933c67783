package transaction

import "testing"

import "time"

func TestAppendStageRejectsReopen(t *testing.T) {
	d := NewDeployment("mypkg", "1.0.0", PipelineStandard, []string{"npm"}, time.Now())
	if err := d.AppendStage(StageValidation, StageStarted, "", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.AppendStage(StageValidation, StageCompleted, "", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.AppendStage(StageValidation, StageCompleted, "", time.Now()); err == nil {
		t.Fatalf("expected error reopening a terminal stage")
	}
}

func TestAppendStageRejectedAfterTerminal(t *testing.T) {
	d := NewDeployment("mypkg", "1.0.0", PipelineStandard, []string{"npm"}, time.Now())
	if err := d.Finalize(StatusFailed, time.Now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := d.AppendStage(StageValidation, StageStarted, "", time.Now()); err == nil {
		t.Fatalf("expected append to be rejected on a terminal transaction")
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	d := NewDeployment("mypkg", "1.0.0", PipelineStandard, []string{"npm"}, time.Now())
	at := time.Now()
	if err := d.Finalize(StatusCompleted, at); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if err := d.Finalize(StatusCompleted, at.Add(time.Second)); err != nil {
		t.Fatalf("repeat finalize with same status must be a no-op: %v", err)
	}
	if err := d.Finalize(StatusFailed, at); err == nil {
		t.Fatalf("expected finalize with a different terminal status to be rejected")
	}
}

func TestAllTerminalOKRequiresEveryTarget(t *testing.T) {
	d := NewDeployment("mypkg", "1.0.0", PipelineParallel, []string{"npm", "pypi"}, time.Now())
	if d.AllTerminalOK() {
		t.Fatalf("pending platforms must not count as terminal-ok")
	}
	_ = d.UpdatePlatform("npm", PlatformStatus{State: PlatformCompleted})
	if d.AllTerminalOK() {
		t.Fatalf("still one pending target, expected false")
	}
	_ = d.UpdatePlatform("pypi", PlatformStatus{State: PlatformSkipped})
	if !d.AllTerminalOK() {
		t.Fatalf("completed+skipped should satisfy invariant 2")
	}
}

func TestUpdatePlatformRejectsUnknownTarget(t *testing.T) {
	d := NewDeployment("mypkg", "1.0.0", PipelineStandard, []string{"npm"}, time.Now())
	if err := d.UpdatePlatform("cargo", PlatformStatus{State: PlatformCompleted}); err == nil {
		t.Fatalf("expected error updating a platform that is not a target")
	}
}

func TestAnyFailedFromValidationStage(t *testing.T) {
	d := NewDeployment("mypkg", "1.0.0", PipelineStandard, []string{"npm"}, time.Now())
	_ = d.AppendStage(StageValidation, StageStarted, "", time.Now())
	_ = d.AppendStage(StageValidation, StageFailed, "missing LICENSE", time.Now())
	if !d.AnyFailed() {
		t.Fatalf("expected AnyFailed to observe the failed validation stage")
	}
}

func TestNewIDMonotonic(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Fatalf("expected distinct ids")
	}
	if a >= b {
		t.Fatalf("expected time-ordered ids to sort ascending, got %s then %s", a, b)
	}
}
