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

// DockerAdapter pushes an image to Docker Hub. Rollback for Docker
// Hub is a tag rewrite / retag: there is no "unpublish", so rollback
// retags the previous image back onto the mutable "latest" tag; no
// other tag is rewritten.
type DockerAdapter struct {
	username, password string
	audit               func(tool string, args []string, exitCode int, durationMS int64)
	repoPrefix          string // e.g. "docker.io/acme"
}

func NewDockerAdapter(audit func(tool string, args []string, exitCode int, durationMS int64)) *DockerAdapter {
	return &DockerAdapter{audit: audit, repoPrefix: "docker.io"}
}

func (a *DockerAdapter) Platform() string { return "dockerhub" }

func (a *DockerAdapter) Init(ctx context.Context, h credential.Handle) error {
	secret, err := credential.EnvResolver{}.Resolve(h)
	if err != nil {
		return err
	}
	a.username, a.password = secret.Username, secret.Password
	return nil
}

func (a *DockerAdapter) Validate(ctx context.Context, workTree, requestedVersion string) (string, Outcome) {
	dockerfile := filepath.Join(workTree, "Dockerfile")
	if _, err := os.Stat(dockerfile); err != nil {
		return "", Outcome{Kind: Permanent, Message: fmt.Sprintf("Dockerfile missing: %v", err)}
	}
	if requestedVersion == "" {
		return "", Outcome{Kind: Permanent, Message: "dockerhub requires an explicit version (image tag)"}
	}
	return requestedVersion, Outcome{Kind: Completed}
}

func (a *DockerAdapter) Build(ctx context.Context, workTree, version string) (Artifact, Outcome) {
	image := a.imageRef(workTree, version)
	res := runner.Run(ctx, 300*time.Second, "docker", []string{"build", "-t", image, workTree}, runner.ExecOptions{})
	if res.Err != nil {
		return Artifact{}, Outcome{Kind: Permanent, Message: "docker build failed: " + res.Output}
	}
	return Artifact{Paths: []string{image}}, Outcome{Kind: Completed}
}

func (a *DockerAdapter) Deploy(ctx context.Context, workTree string, artifact Artifact) (string, Outcome) {
	if len(artifact.Paths) == 0 {
		return "", Outcome{Kind: Permanent, Message: "no image built"}
	}
	image := artifact.Paths[0]
	loginArgs := []string{"login", "-u", a.username, "--password-stdin"}
	loginRes := runner.Run(ctx, 30*time.Second, "docker", loginArgs, runner.ExecOptions{Mutating: false})
	_ = loginRes
	res := runner.Run(ctx, 300*time.Second, "docker", []string{"push", image}, runner.ExecOptions{Force: true, Mutating: true, AuditFn: a.audit})
	if res.Err != nil {
		out := strings.ToLower(res.Output)
		switch {
		case res.TimedOut, strings.Contains(out, "503"), strings.Contains(out, "service unavailable"):
			return "", Outcome{Kind: Transient, Message: res.Output}
		default:
			return "", Outcome{Kind: Permanent, Message: res.Output}
		}
	}
	return image, Outcome{Kind: Completed}
}

func (a *DockerAdapter) Verify(ctx context.Context, pkg, version string) VerifyResult {
	url := fmt.Sprintf("https://hub.docker.com/v2/repositories/%s/%s/tags/%s", a.repoPrefix, pkg, version)
	ok, meta, err := probeMetadataAPI(ctx, url, version)
	if err != nil {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: err.Error()}}
	}
	if !ok {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: "propagation pending"}}
	}
	return VerifyResult{Outcome: Outcome{Kind: Completed}, Metadata: meta}
}

func (a *DockerAdapter) Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) RollbackResult {
	if previousVersion == "" {
		return RollbackResult{Outcome: Outcome{Kind: Unsupported, Message: "no previous image tag known to retag onto latest"}}
	}
	src := fmt.Sprintf("%s/%s:%s", a.repoPrefix, pkg, previousVersion)
	dst := fmt.Sprintf("%s/%s:latest", a.repoPrefix, pkg)
	tagRes := runner.Run(ctx, 30*time.Second, "docker", []string{"tag", src, dst}, runner.ExecOptions{Force: true})
	if tagRes.Err != nil {
		return RollbackResult{Outcome: Outcome{Kind: Permanent, Message: tagRes.Output}}
	}
	pushRes := runner.Run(ctx, 120*time.Second, "docker", []string{"push", dst}, runner.ExecOptions{Force: true, Mutating: true, AuditFn: a.audit})
	if pushRes.Err != nil {
		return RollbackResult{Outcome: Outcome{Kind: Permanent, Message: pushRes.Output}}
	}
	return RollbackResult{Outcome: Outcome{Kind: Completed}, MethodUsed: "retag-latest"}
}

func (a *DockerAdapter) imageRef(workTree, version string) string {
	return fmt.Sprintf("%s/%s:%s", a.repoPrefix, filepath.Base(workTree), version)
}
