// Package validator implements the pre-deploy gate: the five checks
// from spec §4.3 run before the first adapter touches the working
// tree, and their findings are aggregated with go.uber.org/multierr so
// a single pipeline run reports every problem it found, not just the
// first.
package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/multierr"

	"github.com/kubilitics/shipctl/internal/descriptor"
)

// Finding is one check result.
type Finding struct {
	Platform string
	Required bool
	Message  string
}

func (f Finding) Error() string {
	return fmt.Sprintf("[%s] %s", f.Platform, f.Message)
}

// Report is the aggregate result of a validation run.
type Report struct {
	Findings []Finding
}

// Failed reports whether any required finding is present.
func (r Report) Failed() bool {
	for _, f := range r.Findings {
		if f.Required {
			return true
		}
	}
	return false
}

// Err returns the findings joined via multierr, or nil if there are
// none — callers that only care about required failures should filter
// first.
func (r Report) Err() error {
	var err error
	for _, f := range r.Findings {
		err = multierr.Append(err, f)
	}
	return err
}

// DependencyDryRunner performs the adapter-provided dependency
// resolution dry run (check 4); adapters that have no such concept
// return nil.
type DependencyDryRunner interface {
	DependencyDryRun(ctx context.Context, workTree string) error
}

// Options configures one Validate call.
type Options struct {
	WorkTree       string
	Targets        []string
	AllowedLicenses map[string]struct{}
	StrictHealth   bool
	DryRunners     map[string]DependencyDryRunner
}

// Validate runs the five pre-deploy checks against every target
// platform's descriptor.
func Validate(ctx context.Context, reg *descriptor.Registry, opts Options) Report {
	var findings []Finding

	for _, name := range opts.Targets {
		desc, err := reg.Get(name)
		if err != nil {
			findings = append(findings, Finding{Platform: name, Required: true, Message: err.Error()})
			continue
		}

		// Check 1: required files exist.
		for _, f := range desc.RequiredFiles {
			p := filepath.Join(opts.WorkTree, f)
			if _, err := os.Stat(p); err != nil {
				findings = append(findings, Finding{Platform: name, Required: true, Message: fmt.Sprintf("required file missing: %s", f)})
			}
		}

		// Check 2: manifest is readable and non-empty. Its syntax and
		// its fields (name, version, ...) are not checked.
		if desc.VersionLocatorFile != "" {
			manifestPath := filepath.Join(opts.WorkTree, desc.VersionLocatorFile)
			if b, err := os.ReadFile(manifestPath); err != nil {
				findings = append(findings, Finding{Platform: name, Required: true, Message: fmt.Sprintf("manifest unreadable: %v", err)})
			} else if len(b) == 0 {
				findings = append(findings, Finding{Platform: name, Required: true, Message: "manifest is empty"})
			}
		}

		// Check 3: license file present, declared, and allow-listed.
		if len(opts.AllowedLicenses) > 0 {
			license, err := readDeclaredLicense(opts.WorkTree, desc)
			if err != nil {
				findings = append(findings, Finding{Platform: name, Required: true, Message: err.Error()})
			} else if _, ok := opts.AllowedLicenses[license]; !ok {
				findings = append(findings, Finding{Platform: name, Required: true, Message: fmt.Sprintf("license %q is not on the allow-list", license)})
			}
		}

		// Check 4: dependency resolution dry-run, adapter-provided.
		if runner, ok := opts.DryRunners[name]; ok && runner != nil {
			if err := runner.DependencyDryRun(ctx, opts.WorkTree); err != nil {
				findings = append(findings, Finding{Platform: name, Required: true, Message: fmt.Sprintf("dependency resolution dry-run failed: %v", err)})
			}
		}

		// Check 5: strict health, advisory unless --strict-health.
		h, err := reg.HealthCheck(ctx, name)
		if err == nil && h.Status == descriptor.HealthDown {
			findings = append(findings, Finding{Platform: name, Required: opts.StrictHealth, Message: fmt.Sprintf("registry health is down: %s", h.Detail)})
		}
	}

	return Report{Findings: findings}
}

// readDeclaredLicense is a best-effort scan for a LICENSE file and a
// declared license field; real manifests vary in shape across
// ecosystems so this intentionally tolerates several dialects.
func readDeclaredLicense(workTree string, desc descriptor.Platform) (string, error) {
	candidates := []string{"LICENSE", "LICENSE.md", "LICENSE.txt"}
	found := false
	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(workTree, c)); err == nil {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("no LICENSE file present")
	}
	if desc.VersionLocatorFile == "" {
		return "", fmt.Errorf("no manifest configured to read declared license from")
	}
	b, err := os.ReadFile(filepath.Join(workTree, desc.VersionLocatorFile))
	if err != nil {
		return "", fmt.Errorf("manifest unreadable: %w", err)
	}
	return extractField(string(b), "license"), nil
}

var fieldPattern = regexp.MustCompile(`(?m)license\s*[:=]\s*"([^"]+)"`)

func extractField(content, key string) string {
	_ = key
	m := fieldPattern.FindStringSubmatch(content)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}
