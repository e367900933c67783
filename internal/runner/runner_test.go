package runner

import (
	"context"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	res := Run(context.Background(), 5*time.Second, "echo", []string{"hello"}, ExecOptions{})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Output == "" {
		t.Fatalf("expected captured output")
	}
}

func TestRunMissingToolFails(t *testing.T) {
	res := Run(context.Background(), time.Second, "shipctl-definitely-not-a-real-binary", nil, ExecOptions{})
	if res.Err == nil {
		t.Fatalf("expected error for missing tool")
	}
}

func TestRunTimeout(t *testing.T) {
	res := Run(context.Background(), 50*time.Millisecond, "sleep", []string{"2"}, ExecOptions{})
	if res.Err == nil || !res.TimedOut {
		t.Fatalf("expected timeout error, got %+v", res)
	}
}

func TestRunMutatingForceSkipsConfirmation(t *testing.T) {
	called := false
	res := Run(context.Background(), 5*time.Second, "echo", []string{"publish"}, ExecOptions{
		Force:    true,
		Mutating: true,
		AuditFn: func(tool string, args []string, exitCode int, durationMS int64) {
			called = true
		},
	})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !called {
		t.Fatalf("expected AuditFn to be called for a mutating invocation")
	}
}
