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

// CargoAdapter publishes to crates.io. crates.io supports "yank" (the
// non-destructive rollback the glossary defines): the version stays
// downloadable by exact pin but is no longer resolvable by range.
type CargoAdapter struct {
	token   string
	audit   func(tool string, args []string, exitCode int, durationMS int64)
	metaURL string
}

func NewCargoAdapter(audit func(tool string, args []string, exitCode int, durationMS int64)) *CargoAdapter {
	return &CargoAdapter{audit: audit, metaURL: "https://crates.io/api/v1/crates/{package}/{version}"}
}

func (a *CargoAdapter) Platform() string { return "cargo" }

func (a *CargoAdapter) Init(ctx context.Context, h credential.Handle) error {
	secret, err := credential.EnvResolver{}.Resolve(h)
	if err != nil {
		return err
	}
	a.token = secret.Token
	return nil
}

func (a *CargoAdapter) Validate(ctx context.Context, workTree, requestedVersion string) (string, Outcome) {
	path := filepath.Join(workTree, "Cargo.toml")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", Outcome{Kind: Permanent, Message: fmt.Sprintf("Cargo.toml missing: %v", err)}
	}
	current := extractVersion(string(b), "version")
	if requestedVersion == "" {
		if current == "" {
			return "", Outcome{Kind: Permanent, Message: "Cargo.toml malformed: no version field"}
		}
		return current, Outcome{Kind: Completed}
	}
	updated := setVersion(string(b), "version", requestedVersion)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return "", Outcome{Kind: Permanent, Message: err.Error()}
	}
	return requestedVersion, Outcome{Kind: Completed}
}

func (a *CargoAdapter) Build(ctx context.Context, workTree, version string) (Artifact, Outcome) {
	res := runner.Run(ctx, 180*time.Second, "cargo", []string{"package", "--manifest-path", filepath.Join(workTree, "Cargo.toml")}, runner.ExecOptions{})
	if res.Err != nil {
		return Artifact{}, Outcome{Kind: Permanent, Message: "cargo package failed: " + res.Output}
	}
	return Artifact{Paths: []string{workTree}}, Outcome{Kind: Completed}
}

func (a *CargoAdapter) Deploy(ctx context.Context, workTree string, artifact Artifact) (string, Outcome) {
	args := []string{"publish", "--manifest-path", filepath.Join(workTree, "Cargo.toml"), "--token", a.token}
	res := runner.Run(ctx, 300*time.Second, "cargo", args, runner.ExecOptions{Force: true, Mutating: true, AuditFn: a.audit})
	if res.Err != nil {
		out := strings.ToLower(res.Output)
		switch {
		case res.TimedOut, strings.Contains(out, "timed out"):
			return "", Outcome{Kind: Transient, Message: res.Output}
		case strings.Contains(out, "already uploaded") || strings.Contains(out, "already exists"):
			return "", Outcome{Kind: Permanent, Message: "version already published: " + res.Output}
		default:
			return "", Outcome{Kind: Permanent, Message: res.Output}
		}
	}
	return "https://crates.io/crates/" + filepath.Base(workTree), Outcome{Kind: Completed}
}

func (a *CargoAdapter) Verify(ctx context.Context, pkg, version string) VerifyResult {
	url := strings.NewReplacer("{package}", pkg, "{version}", version).Replace(a.metaURL)
	ok, meta, err := probeMetadataAPI(ctx, url, version)
	if err != nil {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: err.Error()}}
	}
	if !ok {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: "propagation pending"}}
	}
	return VerifyResult{Outcome: Outcome{Kind: Completed}, Metadata: meta}
}

func (a *CargoAdapter) Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) RollbackResult {
	args := []string{"yank", "--version", version, pkg, "--token", a.token}
	res := runner.Run(ctx, 60*time.Second, "cargo", args, runner.ExecOptions{Force: true, Mutating: true, AuditFn: a.audit})
	if res.Err != nil {
		if strings.Contains(strings.ToLower(res.Output), "already yanked") {
			return RollbackResult{Outcome: Outcome{Kind: Completed}, MethodUsed: "cargo-yank"}
		}
		return RollbackResult{Outcome: Outcome{Kind: Permanent, Message: res.Output}}
	}
	return RollbackResult{Outcome: Outcome{Kind: Yanked}, MethodUsed: "cargo-yank"}
}
