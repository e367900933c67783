package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// extractVersion does a best-effort pull of a version value for key
// out of a JSON-ish manifest without requiring the caller to know the
// exact manifest dialect (package.json, pyproject.toml, Cargo.toml all
// contain a line shaped like `"version": "x"` or `version = "x"`).
func extractVersion(content, key string) string {
	if key == "" {
		key = "version"
	}
	re := regexp.MustCompile(`(?m)` + regexp.QuoteMeta(key) + `\s*[:=]\s*"([^"]+)"`)
	m := re.FindStringSubmatch(content)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}

// setVersion replaces key's value in content with newVersion, in
// place, preserving everything else.
func setVersion(content, key, newVersion string) string {
	if key == "" {
		key = "version"
	}
	re := regexp.MustCompile(`(?m)(` + regexp.QuoteMeta(key) + `\s*[:=]\s*")[^"]+(")`)
	if re.MatchString(content) {
		return re.ReplaceAllString(content, "${1}"+newVersion+"${2}")
	}
	return content
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// probeMetadataAPI issues one GET against a registry's public metadata
// endpoint and reports whether the target version is present. It does
// one attempt; the caller is responsible for the backoff/retry loop
// (internal/adapter.VerifyBackoff) since the cap differs per scenario.
func probeMetadataAPI(ctx context.Context, url, version string) (bool, map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil, fmt.Errorf("metadata API returned %s", resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		// Non-JSON metadata endpoints (e.g. a plain tag list) are still
		// a present signal as long as the version string shows up.
		if version != "" && !strings.Contains(string(raw), version) {
			return false, nil, nil
		}
		return true, map[string]string{"raw": "non-json response treated as present"}, nil
	}
	meta := map[string]string{}
	for k, v := range body {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	if version != "" {
		if !strings.Contains(fmt.Sprintf("%v", body), version) {
			return false, nil, nil
		}
	}
	return true, meta, nil
}
