// Package descriptor implements the Platform Registry: it loads the
// static, declarative description of every supported package registry
// from YAML source files, validates required fields at load time, and
// exposes the read-only lookups the rest of the system needs.
package descriptor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RollbackCapability names how (if at all) a registry supports undoing
// a publish.
type RollbackCapability string

const (
	RollbackUnpublish  RollbackCapability = "unpublish"
	RollbackYank       RollbackCapability = "yank"
	RollbackTagRewrite RollbackCapability = "tag_rewrite"
	RollbackRetagImage RollbackCapability = "retag_image"
	RollbackNone       RollbackCapability = "none"
)

// AuthScheme names how an adapter authenticates to a registry.
type AuthScheme string

const (
	AuthBearerToken AuthScheme = "bearer_token"
	AuthUserPass    AuthScheme = "userpass"
	AuthConfigFile  AuthScheme = "config_file"
	AuthNone        AuthScheme = "none"
)

// RollbackMethod is one ordered candidate a rollback may attempt.
type RollbackMethod struct {
	Name               string        `yaml:"name" json:"name"`
	Command            []string      `yaml:"command" json:"command"`
	Timeout            time.Duration `yaml:"timeout" json:"timeout"`
	RequiresConfirm    bool          `yaml:"requires_confirmation" json:"requires_confirmation"`
}

// Platform is the static descriptor for one registry. Fields mirror
// the descriptor schema verbatim.
type Platform struct {
	Name               string              `yaml:"name" json:"name"`
	Ecosystem          string              `yaml:"ecosystem" json:"ecosystem"`
	RegistryBaseURL    string              `yaml:"registry_base_url" json:"registry_base_url"`
	MetadataAPIURL     string              `yaml:"metadata_api_url" json:"metadata_api_url"`
	HealthURL          string              `yaml:"health_url" json:"health_url,omitempty"`
	RequiredFiles      []string            `yaml:"required_files" json:"required_files"`
	OptionalFiles      []string            `yaml:"optional_files" json:"optional_files,omitempty"`
	VersionLocatorFile string              `yaml:"version_locator_file" json:"version_locator_file"`
	VersionLocatorKey  string              `yaml:"version_locator_key" json:"version_locator_key"`
	RollbackCapability RollbackCapability  `yaml:"rollback_capability" json:"rollback_capability"`
	RollbackMethods    []RollbackMethod    `yaml:"rollback_methods" json:"rollback_methods"`
	AuthScheme         AuthScheme          `yaml:"auth_scheme" json:"auth_scheme"`
	RecoveryActions    []string            `yaml:"recovery_actions" json:"recovery_actions,omitempty"`
	PublishCommand     []string            `yaml:"publish_command" json:"publish_command,omitempty"`
	DeployTimeout      time.Duration       `yaml:"deploy_timeout" json:"deploy_timeout,omitempty"`
	StageSet           string              `yaml:"stage_set" json:"stage_set,omitempty"` // "staging" or "production", used by the staged pipeline
}

// HealthStatus is the result of a registry health probe.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// Health is a cached health-check result.
type Health struct {
	Status    HealthStatus
	CheckedAt time.Time
	Latency   time.Duration
	Detail    string
}

const healthCacheTTL = 30 * time.Second

// Registry holds every loaded platform descriptor, immutable after
// LoadDir returns.
type Registry struct {
	httpClient *http.Client

	mu         sync.RWMutex
	platforms  map[string]Platform
	healthMu   sync.Mutex
	healthCache map[string]Health
}

// NewRegistry constructs an empty registry. Call LoadDir to populate
// it.
func NewRegistry() *Registry {
	return &Registry{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		platforms:   map[string]Platform{},
		healthCache: map[string]Health{},
	}
}

// LoadDir loads every *.yaml / *.yml file in dir as a platform
// descriptor. It fails fast on the first descriptor missing a required
// field or a duplicate name.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("descriptor: read dir %s: %w", dir, err)
	}
	loaded := make(map[string]Platform, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("descriptor: read %s: %w", path, err)
		}
		var p Platform
		if err := yaml.Unmarshal(b, &p); err != nil {
			return fmt.Errorf("descriptor: parse %s: %w", path, err)
		}
		if err := validate(p); err != nil {
			return fmt.Errorf("descriptor: %s: %w", path, err)
		}
		if _, dup := loaded[p.Name]; dup {
			return fmt.Errorf("descriptor: duplicate platform name %q", p.Name)
		}
		loaded[p.Name] = p
	}
	r.mu.Lock()
	r.platforms = loaded
	r.mu.Unlock()
	return nil
}

func validate(p Platform) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("missing required field: name")
	}
	if strings.TrimSpace(p.Ecosystem) == "" {
		return fmt.Errorf("platform %s: missing required field: ecosystem", p.Name)
	}
	if strings.TrimSpace(p.RegistryBaseURL) == "" {
		return fmt.Errorf("platform %s: missing required field: registry_base_url", p.Name)
	}
	if strings.TrimSpace(p.MetadataAPIURL) == "" {
		return fmt.Errorf("platform %s: missing required field: metadata_api_url", p.Name)
	}
	if len(p.RequiredFiles) == 0 {
		return fmt.Errorf("platform %s: missing required field: required_files", p.Name)
	}
	switch p.AuthScheme {
	case AuthBearerToken, AuthUserPass, AuthConfigFile, AuthNone:
	default:
		return fmt.Errorf("platform %s: invalid auth_scheme %q", p.Name, p.AuthScheme)
	}
	switch p.RollbackCapability {
	case RollbackUnpublish, RollbackYank, RollbackTagRewrite, RollbackRetagImage, RollbackNone:
	default:
		return fmt.Errorf("platform %s: invalid rollback_capability %q", p.Name, p.RollbackCapability)
	}
	if p.RollbackCapability == RollbackNone && len(p.RollbackMethods) != 0 {
		return fmt.Errorf("platform %s: rollback_methods must be empty when rollback_capability=none", p.Name)
	}
	if p.RollbackCapability != RollbackNone && len(p.RollbackMethods) == 0 {
		return fmt.Errorf("platform %s: rollback_methods required when rollback_capability=%s", p.Name, p.RollbackCapability)
	}
	return nil
}

// ErrNotFound is returned by Get and ValidateDescriptor for unknown
// platform names.
type ErrNotFound struct{ Name string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("descriptor: unknown platform %q", e.Name) }

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	if !ok {
		return Platform{}, ErrNotFound{Name: name}
	}
	return p, nil
}

// List returns every loaded descriptor, sorted by name.
func (r *Registry) List() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Platform, 0, len(r.platforms))
	for _, p := range r.platforms {
		out = append(out, p)
	}
	sortPlatforms(out)
	return out
}

func sortPlatforms(ps []Platform) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j-1].Name > ps[j].Name; j-- {
			ps[j-1], ps[j] = ps[j], ps[j-1]
		}
	}
}

// ValidateDescriptor re-runs the load-time checks against the
// currently loaded descriptor for name; useful for `shipctl descriptor
// validate`.
func (r *Registry) ValidateDescriptor(name string) error {
	p, err := r.Get(name)
	if err != nil {
		return err
	}
	return validate(p)
}

// HealthCheck probes the descriptor's health endpoint (falling back to
// registry_base_url) and classifies the result. Results are cached
// for healthCacheTTL so repeated validator calls do not hammer the
// registry; it is side-effect-free and never blocks a deploy.
func (r *Registry) HealthCheck(ctx context.Context, name string) (Health, error) {
	p, err := r.Get(name)
	if err != nil {
		return Health{}, err
	}

	r.healthMu.Lock()
	if cached, ok := r.healthCache[name]; ok && time.Since(cached.CheckedAt) < healthCacheTTL {
		r.healthMu.Unlock()
		return cached, nil
	}
	r.healthMu.Unlock()

	url := p.HealthURL
	if url == "" {
		url = p.RegistryBaseURL
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	h := Health{CheckedAt: start}
	if err != nil {
		h.Status = HealthDown
		h.Detail = err.Error()
		r.cacheHealth(name, h)
		return h, nil
	}
	resp, err := r.httpClient.Do(req)
	h.Latency = time.Since(start)
	if err != nil {
		h.Status = HealthDown
		h.Detail = err.Error()
		r.cacheHealth(name, h)
		return h, nil
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		h.Status = HealthOK
	case resp.StatusCode >= 500:
		h.Status = HealthDown
		h.Detail = resp.Status
	default:
		h.Status = HealthDegraded
		h.Detail = resp.Status
	}
	r.cacheHealth(name, h)
	return h, nil
}

func (r *Registry) cacheHealth(name string, h Health) {
	r.healthMu.Lock()
	r.healthCache[name] = h
	r.healthMu.Unlock()
}
