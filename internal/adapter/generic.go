package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubilitics/shipctl/internal/credential"
	"github.com/kubilitics/shipctl/internal/descriptor"
	"github.com/kubilitics/shipctl/internal/runner"
)

// GenericAdapter drives any descriptor whose `publish_command` and
// `rollback_methods` templates are expressible as a plain command line
// with `{package}`/`{version}`/`{previous_version}` substitution. It is
// the adapter used for every platform named in the purpose statement
// that does not warrant a bespoke Go implementation (Maven Central,
// NuGet, Packagist, Homebrew, ...) — the descriptor is the only thing
// that differs between them.
type GenericAdapter struct {
	desc descriptor.Platform
	cred credential.Secret
}

func NewGenericAdapter(desc descriptor.Platform) *GenericAdapter {
	return &GenericAdapter{desc: desc}
}

func (a *GenericAdapter) Platform() string { return a.desc.Name }

func (a *GenericAdapter) Init(ctx context.Context, h credential.Handle) error {
	secret, err := credential.EnvResolver{}.Resolve(h)
	if err != nil {
		return err
	}
	a.cred = secret
	return nil
}

func (a *GenericAdapter) Validate(ctx context.Context, workTree, requestedVersion string) (string, Outcome) {
	if len(a.desc.RequiredFiles) == 0 {
		return "", Outcome{Kind: Permanent, Message: "descriptor declares no required files"}
	}
	manifestPath := filepath.Join(workTree, a.desc.VersionLocatorFile)
	b, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", Outcome{Kind: Permanent, Message: fmt.Sprintf("manifest missing: %v", err)}
	}
	current := extractVersion(string(b), a.desc.VersionLocatorKey)
	if requestedVersion == "" {
		if current == "" {
			return "", Outcome{Kind: Permanent, Message: "manifest malformed: no version found"}
		}
		return current, Outcome{Kind: Completed}
	}
	updated := setVersion(string(b), a.desc.VersionLocatorKey, requestedVersion)
	if err := os.WriteFile(manifestPath, []byte(updated), 0o644); err != nil {
		return "", Outcome{Kind: Permanent, Message: fmt.Sprintf("failed to write manifest: %v", err)}
	}
	return requestedVersion, Outcome{Kind: Completed}
}

func (a *GenericAdapter) Build(ctx context.Context, workTree, version string) (Artifact, Outcome) {
	// The generic adapter has no ecosystem-specific build step; the
	// publish command is expected to build-and-publish atomically (as
	// e.g. `mvn deploy` or `gem push` do). Artifact is a descriptor of
	// the working tree itself.
	return Artifact{Paths: []string{workTree}}, Outcome{Kind: Completed}
}

func (a *GenericAdapter) Deploy(ctx context.Context, workTree string, artifact Artifact) (string, Outcome) {
	if len(a.desc.PublishCommand) == 0 {
		return "", Outcome{Kind: Unsupported, Message: "descriptor declares no publish_command"}
	}
	tool, args := renderCommand(a.desc.PublishCommand, a.desc.Name, "", "", a.cred)
	timeout := a.desc.DeployTimeout
	if timeout == 0 {
		timeout = defaultDeployTimeout
	}
	res := runner.Run(ctx, timeout, tool, args, runner.ExecOptions{Force: true, Mutating: true})
	if res.Err != nil {
		if res.TimedOut {
			return "", Outcome{Kind: Transient, Message: res.Err.Error()}
		}
		if looksTransient(res.Output) {
			return "", Outcome{Kind: Transient, Message: res.Output}
		}
		if looksConflict(res.Output) {
			return "", Outcome{Kind: Permanent, Message: "version already published: " + res.Output}
		}
		return "", Outcome{Kind: Permanent, Message: res.Output}
	}
	return a.desc.RegistryBaseURL, Outcome{Kind: Completed}
}

func (a *GenericAdapter) Verify(ctx context.Context, pkg, version string) VerifyResult {
	url := strings.NewReplacer("{package}", pkg, "{version}", version).Replace(a.desc.MetadataAPIURL)
	ok, meta, err := probeMetadataAPI(ctx, url, version)
	if err != nil {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: err.Error()}}
	}
	if !ok {
		return VerifyResult{Outcome: Outcome{Kind: Transient, Message: "not yet visible in registry metadata"}}
	}
	return VerifyResult{Outcome: Outcome{Kind: Completed}, Metadata: meta}
}

func (a *GenericAdapter) Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) RollbackResult {
	if a.desc.RollbackCapability == descriptor.RollbackNone {
		return RollbackResult{Outcome: Outcome{Kind: Unsupported, Message: "platform declares rollback_capability=none"}}
	}
	for _, m := range a.desc.RollbackMethods {
		if m.RequiresConfirm && !confirmOverride {
			continue
		}
		tool, args := renderCommand(m.Command, pkg, version, previousVersion, a.cred)
		timeout := m.Timeout
		if timeout == 0 {
			timeout = defaultDeployTimeout
		}
		res := runner.Run(ctx, timeout, tool, args, runner.ExecOptions{Force: true, Mutating: true})
		if res.Err == nil {
			return RollbackResult{Outcome: Outcome{Kind: Completed}, MethodUsed: m.Name}
		}
	}
	if len(a.desc.RollbackMethods) > 0 && allRequireConfirm(a.desc.RollbackMethods) && !confirmOverride {
		return RollbackResult{Outcome: Outcome{Kind: Unsupported, Message: "all rollback methods require confirmation in automated mode"}}
	}
	return RollbackResult{Outcome: Outcome{Kind: Permanent, Message: "all declared rollback methods failed"}}
}

func allRequireConfirm(ms []descriptor.RollbackMethod) bool {
	for _, m := range ms {
		if !m.RequiresConfirm {
			return false
		}
	}
	return true
}

const defaultDeployTimeout = 300 * time.Second

func renderCommand(tmpl []string, pkg, version, previousVersion string, cred credential.Secret) (string, []string) {
	if len(tmpl) == 0 {
		return "", nil
	}
	repl := strings.NewReplacer(
		"{package}", pkg,
		"{version}", version,
		"{previous_version}", previousVersion,
		"{token}", cred.Token,
		"{username}", cred.Username,
		"{password}", cred.Password,
	)
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = repl.Replace(a)
	}
	return out[0], out[1:]
}

func looksTransient(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{"503", "timeout", "econnreset", "temporarily unavailable", "rate limit"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func looksConflict(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{"already exists", "already published", "409", "cannot publish over"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
