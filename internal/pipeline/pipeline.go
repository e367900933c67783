// Package pipeline implements the Pipeline Executor: the
// validation → pre_deploy → deploy* → post_deploy → verify skeleton
// shared by the standard, parallel and staged topologies, bounded
// concurrency for fan-out, and cooperative cancellation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kubilitics/shipctl/internal/adapter"
	"github.com/kubilitics/shipctl/internal/credential"
	"github.com/kubilitics/shipctl/internal/descriptor"
	"github.com/kubilitics/shipctl/internal/store"
	"github.com/kubilitics/shipctl/internal/transaction"
	"github.com/kubilitics/shipctl/internal/validator"
)

// DefaultConcurrency is the parallel topology's default worker cap
// (§9: "implementations should default to 5 and expose it").
const DefaultConcurrency = 5

// RollbackTrigger is implemented by the rollback engine; the pipeline
// depends only on this narrow interface to avoid a pipeline<->rollback
// import cycle.
type RollbackTrigger interface {
	TriggerAutoRollback(ctx context.Context, deploymentID string, platforms []string, reason transaction.RollbackReason) (string, error)
}

// Request is one deploy invocation.
type Request struct {
	Package        string
	Version        string
	Pipeline       transaction.Pipeline
	Targets        []string
	Concurrency    int
	FailFast       bool
	AutoRollback   bool
	StrictHealth   bool
	AllowedLicenses map[string]struct{}
	WorkTree       string
	CredentialResolver credential.Resolver
}

// Executor drives one deployment transaction from creation to terminal
// status.
type Executor struct {
	Store      *store.Store
	Registry   *descriptor.Registry
	Adapters   *adapter.Registry
	Rollback   RollbackTrigger
	Logger     StageLogger
}

// StageLogger receives a human-readable line per stage/adapter event,
// written to logs/{id}.log (§6) — free-form, never parsed by the core.
type StageLogger interface {
	Log(transactionID, line string)
}

// Run executes req end to end and returns the final deployment record.
func (e *Executor) Run(ctx context.Context, req Request) (*transaction.Deployment, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("pipeline: at least one target platform is required")
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	d := transaction.NewDeployment(req.Package, req.Version, req.Pipeline, req.Targets, time.Now().UTC())
	d.AutoRollback = req.AutoRollback
	d.FailFast = req.FailFast
	if err := e.Store.Create(d); err != nil {
		return nil, fmt.Errorf("pipeline: create transaction: %w", err)
	}
	e.logf(d.ID, "transaction %s created: package=%s version=%s pipeline=%s targets=%v", d.ID, req.Package, req.Version, req.Pipeline, req.Targets)

	if err := e.stage(d.ID, transaction.StageValidation, func() error {
		report := validator.Validate(ctx, e.Registry, validator.Options{
			WorkTree:        req.WorkTree,
			Targets:         req.Targets,
			AllowedLicenses: req.AllowedLicenses,
			StrictHealth:    req.StrictHealth,
		})
		for _, f := range report.Findings {
			e.logf(d.ID, "validation finding [%s] required=%v: %s", f.Platform, f.Required, f.Message)
		}
		if report.Failed() {
			return fmt.Errorf("validation failed: %v", report.Err())
		}
		return nil
	}); err != nil {
		e.finalize(d.ID, transaction.StatusFailed)
		return e.reload(d.ID)
	}

	if err := e.stage(d.ID, transaction.StagePreDeploy, func() error {
		return e.runPreDeploy(ctx, d.ID, req)
	}); err != nil {
		e.failOrRollback(ctx, d.ID, req)
		return e.reload(d.ID)
	}

	deployErr := e.stage(d.ID, transaction.StageDeploy, func() error {
		switch req.Pipeline {
		case transaction.PipelineParallel:
			return e.runParallel(ctx, d.ID, req, concurrency)
		case transaction.PipelineStaged:
			return e.runStaged(ctx, d.ID, req, concurrency)
		default:
			return e.runStandard(ctx, d.ID, req)
		}
	})

	cancelled, cerr := e.checkCancelled(d.ID)
	if cerr == nil && cancelled {
		e.finalize(d.ID, transaction.StatusCancelled)
		return e.reload(d.ID)
	}

	if deployErr != nil {
		e.failOrRollback(ctx, d.ID, req)
		return e.reload(d.ID)
	}

	if err := e.stage(d.ID, transaction.StagePostDeploy, func() error { return nil }); err != nil {
		e.finalize(d.ID, transaction.StatusFailed)
		return e.reload(d.ID)
	}

	verifyErr := e.stage(d.ID, transaction.StageVerify, func() error {
		return e.runVerify(ctx, d.ID, req)
	})
	if verifyErr != nil {
		e.failOrRollback(ctx, d.ID, req)
		return e.reload(d.ID)
	}

	e.finalize(d.ID, transaction.StatusCompleted)
	return e.reload(d.ID)
}

// Cancel sets the cooperative cancel flag (§4.5).
func (e *Executor) Cancel(id string) error {
	return e.Store.RequestCancel(id)
}

func (e *Executor) checkCancelled(id string) (bool, error) {
	d, err := e.Store.Get(id)
	if err != nil {
		return false, err
	}
	return d.CancelRequested, nil
}

func (e *Executor) stage(id string, name transaction.StageName, fn func() error) error {
	_ = e.Store.AppendStage(id, name, transaction.StageStarted, "")
	e.logf(id, "stage %s started", name)
	if err := fn(); err != nil {
		_ = e.Store.AppendStage(id, name, transaction.StageFailed, err.Error())
		e.logf(id, "stage %s failed: %v", name, err)
		return err
	}
	_ = e.Store.AppendStage(id, name, transaction.StageCompleted, "")
	e.logf(id, "stage %s completed", name)
	return nil
}

func (e *Executor) finalize(id string, status transaction.Status) {
	if err := e.Store.Finalize(id, status); err != nil {
		e.logf(id, "finalize to %s failed: %v", status, err)
	}
}

func (e *Executor) reload(id string) (*transaction.Deployment, error) {
	return e.Store.Get(id)
}

func (e *Executor) logf(id, format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Log(id, fmt.Sprintf(format, args...))
	}
}

// runPreDeploy initializes every adapter (credential resolution +
// Init) and resolves/bumps the version once, sequentially — the
// shared-working-tree rule from §5.
func (e *Executor) runPreDeploy(ctx context.Context, id string, req Request) error {
	d, err := e.Store.Get(id)
	if err != nil {
		return err
	}
	resolver := req.CredentialResolver
	if resolver == nil {
		resolver = credential.EnvResolver{}
	}
	for _, name := range d.Targets {
		desc, err := e.Registry.Get(name)
		if err != nil {
			return err
		}
		a, err := e.Adapters.Get(name, e.Registry)
		if err != nil {
			return err
		}
		secret, err := resolver.Resolve(credential.Handle{Platform: name, AuthScheme: string(desc.AuthScheme)})
		if err != nil {
			return fmt.Errorf("%s: credential resolution failed: %w", name, err)
		}
		_ = secret
		if err := a.Init(ctx, credential.Handle{Platform: name, AuthScheme: string(desc.AuthScheme)}); err != nil {
			return fmt.Errorf("%s: init failed: %w", name, err)
		}
		resolved, outcome := a.Validate(ctx, req.WorkTree, req.Version)
		if !outcome.Ok() {
			return fmt.Errorf("%s: validate failed: %s", name, outcome.Message)
		}
		e.logf(id, "%s: resolved version %s", name, resolved)
	}
	return nil
}

func (e *Executor) deployOne(ctx context.Context, id, name string, req Request) error {
	a, err := e.Adapters.Get(name, e.Registry)
	if err != nil {
		return err
	}
	_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformRunning})

	artifact, outcome := a.Build(ctx, req.WorkTree, req.Version)
	if !outcome.Ok() {
		_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformFailed, ErrorMessage: "build: " + outcome.Message})
		return fmt.Errorf("%s: build failed: %s", name, outcome.Message)
	}

	var lastOutcome adapter.Outcome
	for attempt := 0; attempt < adapter.MaxDeployAttempts; attempt++ {
		if attempt > 0 {
			_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformRetrying, Attempts: attempt})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(adapter.DeployBackoff(attempt - 1)):
			}
		}
		_, outcome := a.Deploy(ctx, req.WorkTree, artifact)
		lastOutcome = outcome
		if outcome.Kind == adapter.Completed {
			_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformCompleted, CompletedAt: timePtr(time.Now().UTC())})
			return nil
		}
		if outcome.Kind != adapter.Transient {
			break
		}
	}
	_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformFailed, ErrorMessage: lastOutcome.Message})
	return fmt.Errorf("%s: deploy failed: %s", name, lastOutcome.Message)
}

func (e *Executor) runStandard(ctx context.Context, id string, req Request) error {
	var firstErr error
	for _, name := range req.Targets {
		if cancelled, _ := e.checkCancelled(id); cancelled {
			_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformSkipped})
			continue
		}
		if err := e.deployOne(ctx, id, name, req); err != nil {
			e.logf(id, "%s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
			if req.FailFast {
				break
			}
		}
	}
	return firstErr
}

func (e *Executor) runParallel(ctx context.Context, id string, req Request, concurrency int) error {
	limiter := rate.NewLimiter(rate.Inf, concurrency)
	sem := make(chan struct{}, concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range req.Targets {
		name := name
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			sem <- struct{}{}
			defer func() { <-sem }()
			if cancelled, _ := e.checkCancelled(id); cancelled {
				_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformSkipped})
				return nil
			}
			if err := e.deployOne(gctx, id, name, req); err != nil {
				e.logf(id, "%s: %v", name, err)
				if req.FailFast {
					return err
				}
				return nil // failure recorded per-platform; standard semantics let siblings finish
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d, err := e.Store.Get(id)
	if err != nil {
		return err
	}
	if d.AnyFailed() {
		return fmt.Errorf("one or more targets failed")
	}
	return nil
}

// runStaged splits targets by descriptor.StageSet into staging and
// production, running staging (with its own verify gate) before
// admitting production. Targets with no declared stage set default to
// production.
func (e *Executor) runStaged(ctx context.Context, id string, req Request, concurrency int) error {
	var staging, production []string
	for _, name := range req.Targets {
		desc, err := e.Registry.Get(name)
		if err != nil {
			return err
		}
		if desc.StageSet == "staging" {
			staging = append(staging, name)
		} else {
			production = append(production, name)
		}
	}
	if len(staging) > 0 {
		stagingReq := req
		stagingReq.Targets = staging
		if err := e.runParallel(ctx, id, stagingReq, concurrency); err != nil {
			return fmt.Errorf("staging set failed: %w", err)
		}
		for _, name := range staging {
			a, err := e.Adapters.Get(name, e.Registry)
			if err != nil {
				return err
			}
			if vr := pollVerify(ctx, a, req.Package, req.Version); !vr.Outcome.Ok() {
				return fmt.Errorf("staging verify gate failed for %s: %s", name, vr.Outcome.Message)
			}
		}
	}
	if len(production) == 0 {
		return nil
	}
	prodReq := req
	prodReq.Targets = production
	return e.runParallel(ctx, id, prodReq, concurrency)
}

func (e *Executor) runVerify(ctx context.Context, id string, req Request) error {
	d, err := e.Store.Get(id)
	if err != nil {
		return err
	}
	var failed []string
	for _, name := range d.Targets {
		st := d.Platforms[name]
		if st.State != transaction.PlatformCompleted {
			continue // skipped/failed targets are not subject to verify
		}
		a, err := e.Adapters.Get(name, e.Registry)
		if err != nil {
			return err
		}
		vr := pollVerify(ctx, a, req.Package, req.Version)
		if !vr.Outcome.Ok() {
			failed = append(failed, name)
			_ = e.Store.UpdatePlatform(id, name, transaction.PlatformStatus{State: transaction.PlatformFailed, ErrorMessage: "verify: " + vr.Outcome.Message})
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("verify failed for: %v", failed)
	}
	return nil
}

// pollVerify polls Verify with the shared exponential backoff schedule
// until success or the 5 minute cap (§5).
func pollVerify(ctx context.Context, a adapter.Adapter, pkg, version string) adapter.VerifyResult {
	deadline := time.Now().Add(5 * time.Minute)
	attempt := 0
	for {
		res := a.Verify(ctx, pkg, version)
		if res.Outcome.Ok() || res.Outcome.Kind == adapter.Permanent {
			return res
		}
		if time.Now().After(deadline) {
			return adapter.VerifyResult{Outcome: adapter.Outcome{Kind: adapter.Permanent, Message: "verify cap exceeded: not found"}}
		}
		select {
		case <-ctx.Done():
			return adapter.VerifyResult{Outcome: adapter.Outcome{Kind: adapter.Permanent, Message: ctx.Err().Error()}}
		case <-time.After(adapter.VerifyBackoff(attempt)):
		}
		attempt++
	}
}

// failOrRollback finalizes a failed transaction. The transaction record
// is still open (not yet finalized) when this runs, so when an
// auto-rollback is opened the terminal status becomes rolled_back
// directly; finalizing to failed first would make that transition
// illegal (terminal -> terminal is rejected) and silently strand the
// record as failed even though a rollback was triggered.
func (e *Executor) failOrRollback(ctx context.Context, id string, req Request) {
	if e.maybeAutoRollback(ctx, id, req) {
		return
	}
	e.finalize(id, transaction.StatusFailed)
}

// maybeAutoRollback opens a rollback for every platform that reached
// PlatformCompleted and, if one was opened, finalizes id as
// rolled_back. It reports whether a rollback was triggered.
func (e *Executor) maybeAutoRollback(ctx context.Context, id string, req Request) bool {
	if !req.AutoRollback || e.Rollback == nil {
		return false
	}
	d, err := e.Store.Get(id)
	if err != nil {
		return false
	}
	var succeeded []string
	for _, name := range d.Targets {
		if d.Platforms[name].State == transaction.PlatformCompleted {
			succeeded = append(succeeded, name)
		}
	}
	if len(succeeded) == 0 {
		return false
	}
	rbID, err := e.Rollback.TriggerAutoRollback(ctx, id, succeeded, transaction.ReasonStageFailed)
	if err != nil {
		e.logf(id, "auto-rollback failed to open: %v", err)
		return false
	}
	_ = e.Store.SetRollbackLink(id, rbID)
	if err := e.Store.Finalize(id, transaction.StatusRolledBack); err != nil {
		e.logf(id, "finalize to rolled_back failed: %v", err)
		return false
	}
	return true
}

func timePtr(t time.Time) *time.Time { return &t }
