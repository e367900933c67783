package adapter

import (
	"context"
	"testing"
)

func TestRegistryReturnsRegisteredAdapter(t *testing.T) {
	r := NewRegistry()
	fake := &FakeAdapter{Name: "npm"}
	r.Register(fake)
	if a, err := r.Get("npm", nil); err != nil || a != fake {
		// nil registry is fine here: npm is bespoke-registered and never
		// reaches the descriptor fallback path.
		t.Fatalf("expected the bespoke npm adapter to be returned, got %v err=%v", a, err)
	}
}

func TestExtractAndSetVersion(t *testing.T) {
	content := `{
  "name": "demo",
  "version": "1.2.3"
}`
	if v := extractVersion(content, "version"); v != "1.2.3" {
		t.Fatalf("expected 1.2.3, got %q", v)
	}
	updated := setVersion(content, "version", "2.0.0")
	if v := extractVersion(updated, "version"); v != "2.0.0" {
		t.Fatalf("expected 2.0.0 after update, got %q", v)
	}
}

func TestFakeAdapterVerifySequence(t *testing.T) {
	f := &FakeAdapter{
		Name: "cargo",
		VerifyOutcomes: []Outcome{
			{Kind: Transient},
			{Kind: Transient},
			{Kind: Completed},
		},
	}
	for i, want := range []Kind{Transient, Transient, Completed, Completed} {
		got := f.Verify(context.Background(), "pkg", "1.0.0").Outcome.Kind
		if got != want {
			t.Fatalf("call %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestDeployBackoffSchedule(t *testing.T) {
	got := []int64{}
	for i := 0; i < 5; i++ {
		got = append(got, DeployBackoff(i).Milliseconds())
	}
	want := []int64{2000, 4000, 8000, 16000, 32000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt %d: expected %dms, got %dms", i, want[i], got[i])
		}
	}
	if DeployBackoff(10).Seconds() != 60 {
		t.Fatalf("expected backoff to cap at 60s")
	}
}
