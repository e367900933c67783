// Package adapterplugin lets a registry not built into shipctl be
// served by an out-of-tree binary implementing the six-op adapter
// contract over a tiny JSON RPC on stdin/stdout, named by convention
// `shipctl-adapter-<platform>` and resolved via PATH. It exists for
// registries the operator runs in-house and does not want to upstream
// a Go adapter for.
package adapterplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/kubilitics/shipctl/internal/adapter"
	"github.com/kubilitics/shipctl/internal/credential"
	"github.com/kubilitics/shipctl/internal/runner"
)

const binaryPrefix = "shipctl-adapter-"

// Available reports whether a plugin binary exists on PATH for
// platform.
func Available(platform string) bool {
	_, err := exec.LookPath(binaryPrefix + platform)
	return err == nil
}

// request is one RPC call sent to the plugin's stdin as a single JSON
// line; response is read back as a single JSON line from stdout.
type request struct {
	Op              string            `json:"op"`
	Package         string            `json:"package,omitempty"`
	Version         string            `json:"version,omitempty"`
	PreviousVersion string            `json:"previous_version,omitempty"`
	WorkTree        string            `json:"work_tree,omitempty"`
	Credential      credential.Secret `json:"credential,omitempty"`
	ConfirmOverride bool              `json:"confirm_override,omitempty"`
}

type response struct {
	Kind            string            `json:"kind"` // completed|transient|permanent|unsupported|yanked
	Message         string            `json:"message,omitempty"`
	MethodUsed      string            `json:"method_used,omitempty"`
	ResolvedVersion string            `json:"resolved_version,omitempty"`
	Coordinates     string            `json:"coordinates,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Adapter implements adapter.Adapter by shelling out to
// shipctl-adapter-<platform> once per lifecycle call. Each call is
// independent: the plugin process is started, sent one request line,
// and expected to print one response line before exiting.
type Adapter struct {
	platform string
	cred     credential.Secret
	timeout  time.Duration
	audit    func(tool string, args []string, exitCode int, durationMS int64)
}

// New returns a plugin-backed adapter for platform if a matching
// binary is on PATH.
func New(platform string, timeout time.Duration, audit func(tool string, args []string, exitCode int, durationMS int64)) (*Adapter, error) {
	if !Available(platform) {
		return nil, fmt.Errorf("adapterplugin: no %s%s binary on PATH", binaryPrefix, platform)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Adapter{platform: platform, timeout: timeout, audit: audit}, nil
}

func (a *Adapter) Platform() string { return a.platform }

func (a *Adapter) Init(ctx context.Context, h credential.Handle) error {
	secret, err := credential.EnvResolver{}.Resolve(h)
	if err != nil {
		return err
	}
	a.cred = secret
	_, outcome := a.call(ctx, request{Op: "init", Credential: secret})
	if outcome.Kind == adapter.Permanent {
		return fmt.Errorf("adapterplugin: init failed: %s", outcome.Message)
	}
	return nil
}

func (a *Adapter) Validate(ctx context.Context, workTree, requestedVersion string) (string, adapter.Outcome) {
	resp, outcome := a.call(ctx, request{Op: "validate", WorkTree: workTree, Version: requestedVersion, Credential: a.cred})
	return resp.ResolvedVersion, outcome
}

func (a *Adapter) Build(ctx context.Context, workTree, version string) (adapter.Artifact, adapter.Outcome) {
	_, outcome := a.call(ctx, request{Op: "build", WorkTree: workTree, Version: version, Credential: a.cred})
	return adapter.Artifact{Paths: []string{workTree}}, outcome
}

func (a *Adapter) Deploy(ctx context.Context, workTree string, _ adapter.Artifact) (string, adapter.Outcome) {
	resp, outcome := a.call(ctx, request{Op: "deploy", WorkTree: workTree, Credential: a.cred})
	return resp.Coordinates, outcome
}

func (a *Adapter) Verify(ctx context.Context, pkg, version string) adapter.VerifyResult {
	resp, outcome := a.call(ctx, request{Op: "verify", Package: pkg, Version: version, Credential: a.cred})
	return adapter.VerifyResult{Outcome: outcome, Metadata: resp.Metadata}
}

func (a *Adapter) Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) adapter.RollbackResult {
	resp, outcome := a.call(ctx, request{
		Op: "rollback", Package: pkg, Version: version, PreviousVersion: previousVersion,
		ConfirmOverride: confirmOverride, Credential: a.cred,
	})
	return adapter.RollbackResult{Outcome: outcome, MethodUsed: resp.MethodUsed}
}

func (a *Adapter) call(ctx context.Context, req request) (response, adapter.Outcome) {
	body, err := json.Marshal(req)
	if err != nil {
		return response{}, adapter.Outcome{Kind: adapter.Permanent, Message: fmt.Sprintf("adapterplugin: marshal request: %v", err)}
	}
	res := runner.Run(ctx, a.timeout, binaryPrefix+a.platform, nil, runner.ExecOptions{
		Mutating: req.Op == "deploy" || req.Op == "rollback",
		Force:    true,
		Stdin:    bytes.NewReader(append(body, '\n')),
		AuditFn:  a.audit,
	})
	if res.Err != nil {
		if res.TimedOut {
			return response{}, adapter.Outcome{Kind: adapter.Transient, Message: res.Err.Error()}
		}
		return response{}, adapter.Outcome{Kind: adapter.Permanent, Message: res.Err.Error()}
	}
	var resp response
	if err := json.Unmarshal([]byte(res.Output), &resp); err != nil {
		return response{}, adapter.Outcome{Kind: adapter.Permanent, Message: fmt.Sprintf("adapterplugin: malformed response: %v", err)}
	}
	return resp, adapter.Outcome{Kind: adapter.Kind(resp.Kind), Message: resp.Message, MethodUsed: resp.MethodUsed}
}
