// Package state persists small operator conveniences across shipctl
// invocations: recently deployed packages, favorite packages, and
// named target-platform groups (so `--targets @all` can stand in for
// a long comma-separated list). None of it is consulted by the
// pipeline executor or rollback engine — it is local CLI ergonomics
// only, never part of a transaction record.
package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	stateDirName  = ".shipctl"
	stateFileName = "state.json"
	maxRecent     = 10
)

type Store struct {
	LastPackage       string              `json:"lastPackage,omitempty"`
	RecentPackages    []string            `json:"recentPackages,omitempty"`
	Favorites         []string            `json:"favorites,omitempty"` // favorite package names
	TargetGroups      map[string][]string `json:"targetGroups,omitempty"`
	ActiveTargetGroup string              `json:"activeTargetGroup,omitempty"`
}

func FilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, stateDirName, stateFileName), nil
}

func Load() (*Store, error) {
	path, err := FilePath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Store{}, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return &Store{}, nil
	}
	var s Store
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func Save(s *Store) error {
	path, err := FilePath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// MarkDeployed records pkg as the most recently deployed package.
func (s *Store) MarkDeployed(pkg string) {
	if pkg == "" {
		return
	}
	s.LastPackage = pkg
	s.RecentPackages = addUniqueFront(s.RecentPackages, pkg, maxRecent)
}

func (s *Store) AddFavorite(name string) {
	s.Favorites = addUniqueFront(s.Favorites, name, 200)
}

func (s *Store) RemoveFavorite(name string) {
	out := make([]string, 0, len(s.Favorites))
	for _, v := range s.Favorites {
		if v != name {
			out = append(out, v)
		}
	}
	s.Favorites = out
}

// SetTargetGroup replaces the named group's member platforms.
func (s *Store) SetTargetGroup(name string, targets []string) {
	name = normalizeGroupName(name)
	if name == "" {
		return
	}
	if s.TargetGroups == nil {
		s.TargetGroups = map[string][]string{}
	}
	s.TargetGroups[name] = dedupeOrdered(targets)
}

func (s *Store) AddTargetGroupMembers(name string, targets []string) {
	name = normalizeGroupName(name)
	if name == "" {
		return
	}
	if s.TargetGroups == nil {
		s.TargetGroups = map[string][]string{}
	}
	base := s.TargetGroups[name]
	s.TargetGroups[name] = dedupeOrdered(append(base, targets...))
}

func (s *Store) RemoveTargetGroup(name string) {
	name = normalizeGroupName(name)
	if name == "" || s.TargetGroups == nil {
		return
	}
	delete(s.TargetGroups, name)
	if s.ActiveTargetGroup == name {
		s.ActiveTargetGroup = ""
	}
}

func (s *Store) SetActiveTargetGroup(name string) {
	name = normalizeGroupName(name)
	if name == "" {
		s.ActiveTargetGroup = ""
		return
	}
	if _, ok := s.TargetGroups[name]; ok {
		s.ActiveTargetGroup = name
	}
}

// ResolveTargets expands a `@group` reference to its member platforms;
// any other value is returned as a single-element slice unchanged.
func (s *Store) ResolveTargets(ref string) []string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "@") {
		return append([]string(nil), s.TargetGroups[strings.TrimPrefix(ref, "@")]...)
	}
	return []string{ref}
}

func normalizeGroupName(name string) string {
	return strings.TrimSpace(name)
}

func dedupeOrdered(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func addUniqueFront(list []string, value string, limit int) []string {
	if value == "" {
		return list
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, value)
	for _, item := range list {
		if item != value {
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
