package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kubilitics/shipctl/internal/credential"
	"github.com/kubilitics/shipctl/internal/runner"
)

// NPMAdapter publishes to the npm registry via the npm CLI, parsing its
// `--json` output where possible instead of relying on exit code alone
// (§4.2: "adapters parse the tool's structured output where possible").
type NPMAdapter struct {
	token   string
	audit   func(tool string, args []string, exitCode int, durationMS int64)
	metaURL string // overridable in tests
}

func NewNPMAdapter(audit func(tool string, args []string, exitCode int, durationMS int64)) *NPMAdapter {
	return &NPMAdapter{audit: audit, metaURL: "https://registry.npmjs.org/{package}"}
}

func (a *NPMAdapter) Platform() string { return "npm" }

func (a *NPMAdapter) Init(ctx context.Context, h credential.Handle) error {
	secret, err := credential.EnvResolver{}.Resolve(h)
	if err != nil {
		return err
	}
	a.token = secret.Token
	return nil
}

type packageJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (a *NPMAdapter) Validate(ctx context.Context, workTree, requestedVersion string) (string, Outcome) {
	path := filepath.Join(workTree, "package.json")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", Outcome{Kind: Permanent, Message: fmt.Sprintf("package.json missing: %v", err)}
	}
	var pkg packageJSON
	if err := json.Unmarshal(b, &pkg); err != nil {
		return "", Outcome{Kind: Permanent, Message: fmt.Sprintf("package.json malformed: %v", err)}
	}
	version := requestedVersion
	if version == "" {
		if pkg.Version == "" {
			return "", Outcome{Kind: Permanent, Message: "package.json has no version and none was requested"}
		}
		version = pkg.Version
	} else if pkg.Version != version {
		pkg.Version = version
		out, err := json.MarshalIndent(&pkg, "", "  ")
		if err != nil {
			return "", Outcome{Kind: Permanent, Message: err.Error()}
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return "", Outcome{Kind: Permanent, Message: err.Error()}
		}
	}
	return version, Outcome{Kind: Completed}
}

func (a *NPMAdapter) Build(ctx context.Context, workTree, version string) (Artifact, Outcome) {
	res := runner.Run(ctx, 120*time.Second, "npm", []string{"pack", "--json"}, runner.ExecOptions{})
	if res.Err != nil {
		return Artifact{}, Outcome{Kind: Permanent, Message: "npm pack failed: " + res.Output}
	}
	return Artifact{Paths: []string{workTree}}, Outcome{Kind: Completed}
}

func (a *NPMAdapter) Deploy(ctx context.Context, workTree string, artifact Artifact) (string, Outcome) {
	args := []string{"publish", "--json"}
	env := []string{}
	if a.token != "" {
		env = append(env, "NPM_TOKEN="+a.token)
	}
	res := runner.Run(ctx, 300*time.Second, "npm", args, runner.ExecOptions{
		Force: true, Mutating: true, Env: env, AuditFn: a.audit,
	})
	if res.Err != nil {
		out := strings.ToLower(res.Output)
		switch {
		case res.TimedOut, strings.Contains(out, "econnreset"), strings.Contains(out, "socket hang up"):
			return "", Outcome{Kind: Transient, Message: res.Output}
		case strings.Contains(out, "e403") || strings.Contains(out, "cannot publish over"):
			return "", Outcome{Kind: Permanent, Message: "version already published: " + res.Output}
		default:
			return "", Outcome{Kind: Permanent, Message: res.Output}
		}
	}
	var report struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal([]byte(res.Output), &report)
	return "https://www.npmjs.com/package/" + report.ID, Outcome{Kind: Completed}
}

func (a *NPMAdapter) Verify(ctx context.Context, pkg, version string) VerifyResult {
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

func (a *NPMAdapter) Rollback(ctx context.Context, pkg, version, previousVersion string, confirmOverride bool) RollbackResult {
	if !confirmOverride {
		return RollbackResult{Outcome: Outcome{Kind: Unsupported, Message: "npm unpublish requires explicit confirmation override in automated mode"}}
	}
	res := runner.Run(ctx, 60*time.Second, "npm", []string{"unpublish", fmt.Sprintf("%s@%s", pkg, version), "--force"}, runner.ExecOptions{
		Force: true, Mutating: true, AuditFn: a.audit,
	})
	if res.Err != nil {
		return RollbackResult{Outcome: Outcome{Kind: Permanent, Message: res.Output}}
	}
	return RollbackResult{Outcome: Outcome{Kind: Completed}, MethodUsed: "npm-unpublish"}
}
