package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubilitics/shipctl/internal/credential"
	"github.com/kubilitics/shipctl/internal/runner"
)

// PyPIAdapter publishes via twine. PyPI forbids re-uploading or
// deleting a released version, so Rollback always reports Unsupported
// — this is the adapter the spec's non-goal ("does not guarantee
// symmetric rollback where the upstream registry forbids it") is
// written about.
type PyPIAdapter struct {
	username, password string
	token               string
	audit               func(tool string, args []string, exitCode int, durationMS int64)
	metaURL             string
}

func NewPyPIAdapter(audit func(tool string, args []string, exitCode int, durationMS int64)) *PyPIAdapter {
	return &PyPIAdapter{audit: audit, metaURL: "https://pypi.org/pypi/{package}/json"}
}

func (a *PyPIAdapter) Platform() string { return "pypi" }

func (a *PyPIAdapter) Init(ctx context.Context, h credential.Handle) error {
	secret, err := credential.EnvResolver{}.Resolve(h)
	if err != nil {
		return err
	}
	if secret.Token != "" {
		a.token = secret.Token
		a.username = "__token__"
		a.password = secret.Token
		return nil
	}
	a.username, a.password = secret.Username, secret.Password
	return nil
}

func (a *PyPIAdapter) Validate(ctx context.Context, workTree, requestedVersion string) (string, Outcome) {
	path := filepath.Join(workTree, "pyproject.toml")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", Outcome{Kind: Permanent, Message: fmt.Sprintf("pyproject.toml missing: %v", err)}
	}
	current := extractVersion(string(b), "version")
	if requestedVersion == "" {
		if current == "" {
			return "", Outcome{Kind: Permanent, Message: "pyproject.toml malformed: no version field"}
		}
		return current, Outcome{Kind: Completed}
	}
	updated := setVersion(string(b), "version", requestedVersion)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", Outcome{Kind: Permanent, Message: err.Error()}
	}
	return requestedVersion, Outcome{Kind: Completed}
}

func (a *PyPIAdapter) Build(ctx context.Context, workTree, version string) (Artifact, Outcome) {
	res := runner.Run(ctx, 180*time.Second, "python3", []string{"-m", "build", workTree}, runner.ExecOptions{})
	if res.Err != nil {
		return Artifact{}, Outcome{Kind: Permanent, Message: "build failed: " + res.Output}
	}
	return Artifact{Paths: []string{filepath.Join(workTree, "dist")}}, Outcome{Kind: Completed}
}

func (a *PyPIAdapter) Deploy(ctx context.Context, workTree string, artifact Artifact) (string, Outcome) {
	args := []string{"upload", "--non-interactive", "-u", a.username, "-p", a.password}
	args = append(args, artifact.Paths...)
	res := runner.Run(ctx, 300*time.Second, "twine", args, runner.ExecOptions{Force: true, Mutating: true, AuditFn: a.audit})
	if res.Err != nil {
		out := strings.ToLower(res.Output)
		switch {
		case res.TimedOut, strings.Contains(out, "connection"):
			return "", Outcome{Kind: Transient, Message: res.Output}
		case strings.Contains(out, "file already exists"):
			return "", Outcome{Kind: Permanent, Message: "version already published: " + res.Output}
		default:
			return "", Outcome{Kind: Permanent, Message: res.Output}
		}
	}
	return "https://pypi.org/project/" + filepath.Base(workTree), Outcome{Kind: Completed}
}

func (a *PyPIAdapter) Verify(ctx context.Context, pkg, version string) VerifyResult {
	url := strings.ReplaceAll(a.metaURL, "{package}", pkg)
	ok, meta, err := probeMetadataAPI(ctx, url, version)
	if err != nil {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: err.Error()}}
	}
	if !ok {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: "propagation pending"}}
	}
	return VerifyResult{Outcome: Outcome{Kind: Completed}, Metadata: meta}
}

func (a *PyPIAdapter) Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) RollbackResult {
	return RollbackResult{Outcome: Outcome{Kind: Unsupported, Message: "PyPI does not permit unpublishing a released version"}}
}
