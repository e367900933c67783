// Package transaction defines the durable record types shared by the
// pipeline executor, the rollback engine and the transaction store. The
// types here are pure data: nothing in this package touches disk, a
// registry, or a clock other than to stamp the fields the caller asks
// for. Mutation helpers enforce the append-only/terminal invariants so
// every other component inherits them for free.
package transaction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Pipeline is the fan-out topology a deployment runs under.
type Pipeline string

const (
	PipelineStandard Pipeline = "standard"
	PipelineParallel Pipeline = "parallel"
	PipelineStaged   Pipeline = "staged"
)

// Status is the terminal or in-flight state of a deployment or rollback
// transaction.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRolledBack Status = "rolled_back"
)

// Terminal reports whether s is one of the statuses after which a
// transaction becomes immutable (invariant 1).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRolledBack:
		return true
	default:
		return false
	}
}

// StageName is a named checkpoint in the pipeline skeleton.
type StageName string

const (
	StageValidation StageName = "validation"
	StagePreDeploy  StageName = "pre_deploy"
	StageDeploy     StageName = "deploy"
	StagePostDeploy StageName = "post_deploy"
	StageVerify     StageName = "verify"
)

// StageState is the lifecycle of one stage entry.
type StageState string

const (
	StageStarted   StageState = "started"
	StageCompleted StageState = "completed"
	StageFailed    StageState = "failed"
	StageSkipped   StageState = "skipped"
)

// StageEntry is one append-only line in a transaction's stage log.
type StageEntry struct {
	Stage     StageName  `json:"stage"`
	State     StageState `json:"state"`
	Timestamp time.Time  `json:"timestamp"`
	Detail    string     `json:"detail,omitempty"`
}

// PlatformState is the per-platform progress of one target within a
// deployment or rollback transaction.
type PlatformState string

const (
	PlatformPending  PlatformState = "pending"
	PlatformRunning  PlatformState = "running"
	PlatformCompleted PlatformState = "completed"
	PlatformFailed   PlatformState = "failed"
	PlatformSkipped  PlatformState = "skipped"
	PlatformRetrying PlatformState = "retrying"
)

// PlatformStatus is the mutable per-platform entry inside a
// transaction's platforms map.
type PlatformStatus struct {
	State           PlatformState `json:"state"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	MethodUsed      string        `json:"method_used,omitempty"`
	PreviousVersion string        `json:"previous_version,omitempty"`
	Attempts        int           `json:"attempts,omitempty"`
}

// Deployment is the core durable record created when a deploy starts
// and updated (through the store's serialized primitives) until it
// reaches a terminal status.
type Deployment struct {
	ID                  string                    `json:"id"`
	Package             string                    `json:"package"`
	Version             string                    `json:"version"`
	Pipeline            Pipeline                  `json:"pipeline"`
	Targets             []string                  `json:"targets"`
	StartedAt           time.Time                 `json:"started_at"`
	CompletedAt         *time.Time                `json:"completed_at,omitempty"`
	Status              Status                    `json:"status"`
	Stages              []StageEntry              `json:"stages"`
	Platforms           map[string]PlatformStatus `json:"platforms"`
	Errors              []string                  `json:"errors,omitempty"`
	RollbackTransactionID string                  `json:"rollback_transaction_id,omitempty"`
	AutoRollback        bool                      `json:"auto_rollback"`
	FailFast            bool                      `json:"fail_fast"`
	CancelRequested     bool                      `json:"cancel_requested,omitempty"`
}

// RollbackReason classifies why a rollback transaction was opened.
type RollbackReason string

const (
	ReasonManualTrigger       RollbackReason = "manual_trigger"
	ReasonVerificationFailed  RollbackReason = "post_deploy_verification_failed"
	ReasonStageFailed         RollbackReason = "stage_failed"
	ReasonOperatorDecision    RollbackReason = "operator_decision"
)

// Rollback mirrors Deployment with the fields invariant 4/5 require.
type Rollback struct {
	ID           string                    `json:"id"`
	DeploymentID string                    `json:"deployment_id"`
	Package      string                    `json:"package"`
	Version      string                    `json:"version"`
	Targets      []string                  `json:"targets"`
	Reason       RollbackReason            `json:"reason"`
	StartedAt    time.Time                 `json:"started_at"`
	CompletedAt  *time.Time                `json:"completed_at,omitempty"`
	Status       Status                    `json:"status"`
	Stages       []StageEntry              `json:"stages"`
	Platforms    map[string]PlatformStatus `json:"platforms"`
	Errors       []string                  `json:"errors,omitempty"`
	StateBefore  map[string]string         `json:"state_before,omitempty"`
	StateAfter   map[string]string         `json:"state_after,omitempty"`
	Mode         string                    `json:"mode,omitempty"`
}

// NewID returns a time-ordered unique id (invariant: "id (unique,
// time-ordered)"). UUIDv7 encodes a millisecond timestamp in its
// leading bits so lexical sort matches creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewDeployment constructs the initial in_progress record for Create.
func NewDeployment(pkg, version string, pipeline Pipeline, targets []string, startedAt time.Time) *Deployment {
	platforms := make(map[string]PlatformStatus, len(targets))
	for _, t := range targets {
		platforms[t] = PlatformStatus{State: PlatformPending}
	}
	return &Deployment{
		ID:        NewID(),
		Package:   pkg,
		Version:   version,
		Pipeline:  pipeline,
		Targets:   append([]string(nil), targets...),
		StartedAt: startedAt,
		Status:    StatusInProgress,
		Stages:    []StageEntry{},
		Platforms: platforms,
	}
}

// AppendStage appends a stage entry, enforcing that a stage's started
// state is not appended twice after a terminal entry for the same
// stage, and that terminal transactions accept no further entries.
func (d *Deployment) AppendStage(stage StageName, state StageState, detail string, ts time.Time) error {
	if d.Status.Terminal() {
		return fmt.Errorf("transaction %s is terminal (%s): cannot append stage %s", d.ID, d.Status, stage)
	}
	if state == StageStarted && d.stageTerminal(stage) {
		return fmt.Errorf("stage %s already reached a terminal state and cannot be reopened", stage)
	}
	if state != StageStarted {
		if !d.stageStarted(stage) {
			return fmt.Errorf("stage %s has no open started entry", stage)
		}
		if d.stageTerminal(stage) {
			return fmt.Errorf("stage %s already reached a terminal state", stage)
		}
	}
	d.Stages = append(d.Stages, StageEntry{Stage: stage, State: state, Timestamp: ts, Detail: detail})
	return nil
}

func (d *Deployment) stageStarted(stage StageName) bool {
	for _, e := range d.Stages {
		if e.Stage == stage && e.State == StageStarted {
			return true
		}
	}
	return false
}

func (d *Deployment) stageTerminal(stage StageName) bool {
	for _, e := range d.Stages {
		if e.Stage == stage && (e.State == StageCompleted || e.State == StageFailed || e.State == StageSkipped) {
			return true
		}
	}
	return false
}

// UpdatePlatform replaces the named platform entry with patch as a
// whole; fields left zero in patch are cleared, not kept. Returns an
// error if the platform is not one of the transaction's targets or the
// transaction is already terminal.
func (d *Deployment) UpdatePlatform(name string, patch PlatformStatus) error {
	if d.Status.Terminal() {
		return fmt.Errorf("transaction %s is terminal: cannot update platform %s", d.ID, name)
	}
	if _, ok := d.Platforms[name]; !ok {
		return fmt.Errorf("platform %s is not a target of transaction %s", name, d.ID)
	}
	d.Platforms[name] = patch
	return nil
}

// Finalize sets the terminal status and completion time. Calling it
// twice with the same status is a no-op (idempotent finalize); calling
// it with a different status on an already-terminal record is
// rejected.
func (d *Deployment) Finalize(status Status, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("%s is not a terminal status", status)
	}
	if d.Status.Terminal() {
		if d.Status == status {
			return nil
		}
		return fmt.Errorf("transaction %s already finalized as %s, cannot finalize as %s", d.ID, d.Status, status)
	}
	d.Status = status
	d.CompletedAt = &at
	return nil
}

// AllTerminalOK reports whether every target platform reached a state
// compatible with a completed transaction (invariant 2).
func (d *Deployment) AllTerminalOK() bool {
	for _, name := range d.Targets {
		st, ok := d.Platforms[name]
		if !ok {
			return false
		}
		if st.State != PlatformCompleted && st.State != PlatformSkipped {
			return false
		}
	}
	return true
}

// AnyFailed reports whether at least one target platform is in state
// failed, or a validation stage entry failed.
func (d *Deployment) AnyFailed() bool {
	for _, st := range d.Platforms {
		if st.State == PlatformFailed {
			return true
		}
	}
	for _, e := range d.Stages {
		if e.Stage == StageValidation && e.State == StageFailed {
			return true
		}
	}
	return false
}
