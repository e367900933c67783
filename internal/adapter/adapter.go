// Package adapter implements the Adapter Runtime: the six-op lifecycle
// contract (Init, Validate, Build, Deploy, Verify, Rollback) that
// isolates per-registry quirks behind one uniform interface, and a
// registry of concrete implementations keyed by platform name.
package adapter

import (
	"context"
	"time"

	"github.com/kubilitics/shipctl/internal/credential"
	"github.com/kubilitics/shipctl/internal/descriptor"
)

// Kind is the tagged variant every lifecycle op returns instead of a
// bare error, per the design note on cross-adapter uniformity.
type Kind string

const (
	Completed   Kind = "completed"
	Transient   Kind = "transient"
	Permanent   Kind = "permanent"
	Unsupported Kind = "unsupported"
	Yanked      Kind = "yanked"
)

// Outcome is the result of one lifecycle operation.
type Outcome struct {
	Kind       Kind
	Message    string
	MethodUsed string
}

func (o Outcome) Ok() bool { return o.Kind == Completed || o.Kind == Yanked }

// Artifact describes a built package ready to publish.
type Artifact struct {
	Paths     []string
	Checksums map[string]string
}

// VerifyResult is what Verify reports when it finds (or fails to find)
// the published package.
type VerifyResult struct {
	Outcome  Outcome
	Metadata map[string]string
}

// RollbackResult is what Rollback reports.
type RollbackResult struct {
	Outcome    Outcome
	MethodUsed string
}

// Adapter is the per-platform implementation of the six-op lifecycle.
// Implementations are stateless between calls: they receive a working
// tree, a version and a credential handle and return a result; they
// never retain a reference to a transaction.
type Adapter interface {
	// Platform returns the descriptor name this adapter serves.
	Platform() string

	Init(ctx context.Context, cred credential.Handle) error

	// Validate resolves the effective version: if requestedVersion is
	// non-empty it is written into the manifest via the descriptor's
	// version_locator; otherwise the manifest's current value is read.
	Validate(ctx context.Context, workTree, requestedVersion string) (resolvedVersion string, outcome Outcome)

	Build(ctx context.Context, workTree, version string) (Artifact, Outcome)

	Deploy(ctx context.Context, workTree string, artifact Artifact) (coordinates string, outcome Outcome)

	Verify(ctx context.Context, pkg, version string) VerifyResult

	// Rollback attempts the descriptor's rollback methods in order.
	// previousVersion is the value to restore as "latest"/current where
	// the registry supports it.
	Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) RollbackResult
}

// VerifyBackoff is the shared exponential backoff schedule used while
// polling Verify (initial 2s, factor 2, cap 60s, overall cap 5m per
// spec; callers own the overall cap via context deadline).
func VerifyBackoff(attempt int) time.Duration {
	d := 2 * time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}

// DeployBackoff is the retry schedule for Transient deploy failures
// (initial 2s, factor 2, cap 60s, max 3 attempts).
func DeployBackoff(attempt int) time.Duration {
	return VerifyBackoff(attempt)
}

const MaxDeployAttempts = 3

// Registry maps platform names to their concrete adapter, built from
// the loaded descriptors.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs an adapter registry. Built-in adapters are
// registered by the caller (internal/cli's app wiring) via Register; unknown
// platforms fall back to the generic descriptor-driven adapter.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

// Has reports whether a bespoke adapter was registered for name,
// without consulting the descriptor registry's GenericAdapter fallback.
func (r *Registry) Has(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// Get returns the adapter for name, or constructs a GenericAdapter from
// the descriptor if no bespoke adapter was registered.
func (r *Registry) Get(name string, descReg *descriptor.Registry) (Adapter, error) {
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	desc, err := descReg.Get(name)
	if err != nil {
		return nil, err
	}
	return NewGenericAdapter(desc), nil
}
