// Package rollback implements the Rollback Engine: it opens a rollback
// transaction against a completed or partially-completed deployment,
// drives each target's Adapter.Rollback in descriptor order, runs
// best-effort recovery actions, and finalizes the rollback record.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/kubilitics/shipctl/internal/adapter"
	"github.com/kubilitics/shipctl/internal/descriptor"
	"github.com/kubilitics/shipctl/internal/runner"
	"github.com/kubilitics/shipctl/internal/store"
	"github.com/kubilitics/shipctl/internal/transaction"
)

// Logger receives one line per rollback event, mirroring
// pipeline.StageLogger.
type Logger interface {
	Log(transactionID, line string)
}

// Engine drives rollback transactions.
type Engine struct {
	Store    *store.Store
	Registry *descriptor.Registry
	Adapters *adapter.Registry
	Logger   Logger
}

// Options configures one rollback invocation.
type Options struct {
	Targets         []string // defaults to the deployment's succeeded targets if empty
	Reason          transaction.RollbackReason
	ConfirmOverride bool // operator explicitly confirmed interactive rollback methods
	Mode            string // "automated" or "manual", per §7's confirmation-required error kind
}

// Open starts a rollback transaction against deploymentID and drives it
// to completion, returning the rollback record.
func (e *Engine) Open(ctx context.Context, deploymentID string, opts Options) (*transaction.Rollback, error) {
	dep, err := e.Store.Get(deploymentID)
	if err != nil {
		return nil, fmt.Errorf("rollback: load deployment %s: %w", deploymentID, err)
	}

	targets := opts.Targets
	if len(targets) == 0 {
		for _, name := range dep.Targets {
			if dep.Platforms[name].State == transaction.PlatformCompleted {
				targets = append(targets, name)
			}
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("rollback: no succeeded targets to roll back for deployment %s", deploymentID)
	}

	mode := opts.Mode
	if mode == "" {
		mode = "manual"
	}

	platforms := make(map[string]transaction.PlatformStatus, len(targets))
	for _, name := range targets {
		platforms[name] = transaction.PlatformStatus{State: transaction.PlatformPending}
	}

	r := &transaction.Rollback{
		ID:           transaction.NewID(),
		DeploymentID: deploymentID,
		Package:      dep.Package,
		Version:      dep.Version,
		Targets:      targets,
		Reason:       opts.Reason,
		StartedAt:    time.Now().UTC(),
		Status:       transaction.StatusInProgress,
		Stages:       []transaction.StageEntry{},
		Platforms:    platforms,
		Mode:         mode,
	}
	r.StateBefore = e.snapshotState(ctx, targets, dep.Package, dep.Version)

	if err := e.Store.CreateRollback(r); err != nil {
		return nil, fmt.Errorf("rollback: create transaction: %w", err)
	}
	e.logf(r.ID, "rollback %s opened against deployment %s: targets=%v reason=%s mode=%s", r.ID, deploymentID, targets, opts.Reason, mode)

	anyFailed := false
	for _, name := range targets {
		desc, err := e.Registry.Get(name)
		if err != nil {
			r.Platforms[name] = transaction.PlatformStatus{State: transaction.PlatformFailed, ErrorMessage: err.Error()}
			anyFailed = true
			continue
		}
		a, err := e.Adapters.Get(name, e.Registry)
		if err != nil {
			r.Platforms[name] = transaction.PlatformStatus{State: transaction.PlatformFailed, ErrorMessage: err.Error()}
			anyFailed = true
			continue
		}

		prevVersion := dep.Platforms[name].PreviousVersion
		confirmOverride := opts.ConfirmOverride || mode != "automated"
		res := a.Rollback(ctx, dep.Package, dep.Version, prevVersion, confirmOverride)

		switch res.Outcome.Kind {
		case adapter.Completed, adapter.Yanked:
			r.Platforms[name] = transaction.PlatformStatus{
				State:       transaction.PlatformCompleted,
				MethodUsed:  res.MethodUsed,
				CompletedAt: timePtr(time.Now().UTC()),
			}
			e.logf(r.ID, "%s: rolled back via %s", name, res.MethodUsed)
		case adapter.Unsupported:
			r.Platforms[name] = transaction.PlatformStatus{State: transaction.PlatformSkipped, ErrorMessage: res.Outcome.Message}
			e.logf(r.ID, "%s: rollback unsupported: %s", name, res.Outcome.Message)
		default:
			r.Platforms[name] = transaction.PlatformStatus{State: transaction.PlatformFailed, ErrorMessage: res.Outcome.Message}
			anyFailed = true
			e.logf(r.ID, "%s: rollback failed: %s", name, res.Outcome.Message)
		}

		e.runRecoveryActions(ctx, r.ID, name, desc)
	}

	r.StateAfter = e.snapshotState(ctx, targets, dep.Package, dep.Version)

	if anyFailed {
		r.Status = transaction.StatusFailed
	} else {
		r.Status = transaction.StatusCompleted
	}
	completedAt := time.Now().UTC()
	r.CompletedAt = &completedAt

	if err := e.Store.SaveRollback(r); err != nil {
		return nil, fmt.Errorf("rollback: save final state: %w", err)
	}
	return r, nil
}

// TriggerAutoRollback implements pipeline.RollbackTrigger, letting the
// pipeline executor open a rollback without importing this package
// (avoiding the cycle).
func (e *Engine) TriggerAutoRollback(ctx context.Context, deploymentID string, platforms []string, reason transaction.RollbackReason) (string, error) {
	r, err := e.Open(ctx, deploymentID, Options{Targets: platforms, Reason: reason, Mode: "automated"})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// runRecoveryActions runs descriptor-declared best-effort cleanup
// commands; failures are logged but never flip the rollback to failed
// (§4.6: "recovery actions are advisory").
func (e *Engine) runRecoveryActions(ctx context.Context, rollbackID, platform string, desc descriptor.Platform) {
	for _, cmd := range desc.RecoveryActions {
		if _, err := runner.Capture(ctx, 30*time.Second, "sh", []string{"-c", cmd}); err != nil {
			e.logf(rollbackID, "%s: recovery action %q failed (ignored): %v", platform, cmd, err)
		}
	}
}

// snapshotState captures the registry's current view of each target's
// published version, best-effort, for the rollback record's audit
// trail (invariant: state_before/state_after captured at open/close).
func (e *Engine) snapshotState(ctx context.Context, targets []string, pkg, version string) map[string]string {
	out := make(map[string]string, len(targets))
	for _, name := range targets {
		a, err := e.Adapters.Get(name, e.Registry)
		if err != nil {
			out[name] = "unknown"
			continue
		}
		vr := a.Verify(ctx, pkg, version)
		out[name] = string(vr.Outcome.Kind)
	}
	return out
}

func (e *Engine) logf(id, format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Log(id, fmt.Sprintf(format, args...))
	}
}

func timePtr(t time.Time) *time.Time { return &t }
