// Package store implements the Transaction Store: the durable,
// append-only JSON-file record of every deployment and rollback, plus
// a derived SQLite index used only for fast history queries. The JSON
// files under dataDir are the single source of truth; every other
// component holds only an id and mutates through these primitives.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kubilitics/shipctl/internal/transaction"
)

const (
	transactionsDir = "transactions"
	rollbacksDir    = "rollbacks"
	platformsDir    = "platforms"
	logsDir         = "logs"
)

// Store is the durable transaction record keyed by id.
type Store struct {
	dataDir string
	locks   *keyedMutex
	index   *index // derived sqlite cache; nil disables it (e.g. in tests)
}

// Open prepares the on-disk layout under dataDir and opens the
// secondary index. It is safe to call concurrently from multiple
// processes sharing the same dataDir as long as each process opens its
// own Store.
func Open(dataDir string) (*Store, error) {
	for _, d := range []string{transactionsDir, rollbacksDir, platformsDir, logsDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, d), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", d, err)
		}
	}
	idx, err := openIndex(filepath.Join(dataDir, "index.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}
	s := &Store{dataDir: dataDir, locks: newKeyedMutex(), index: idx}
	if err := s.rebuildIndexIfStale(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

func (s *Store) deploymentPath(id string) string {
	return filepath.Join(s.dataDir, transactionsDir, id+".json")
}

func (s *Store) rollbackPath(id string) string {
	return filepath.Join(s.dataDir, rollbacksDir, id+".json")
}

func (s *Store) LogPath(id string) string {
	return filepath.Join(s.dataDir, logsDir, id+".log")
}

// Create writes the initial in_progress deployment record, atomically.
func (s *Store) Create(d *transaction.Deployment) error {
	unlock := s.locks.Lock(d.ID)
	defer unlock()
	if err := writeJSONAtomic(s.deploymentPath(d.ID), d); err != nil {
		return err
	}
	if s.index != nil {
		_ = s.index.upsertDeployment(d)
	}
	return nil
}

// Get loads a deployment record by id.
func (s *Store) Get(id string) (*transaction.Deployment, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	var d transaction.Deployment
	if err := readJSON(s.deploymentPath(id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AppendStage loads, mutates and rewrites the record under the id's
// lock so stage log entries are totally ordered (§5).
func (s *Store) AppendStage(id string, stage transaction.StageName, state transaction.StageState, detail string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	var d transaction.Deployment
	if err := readJSON(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if err := d.AppendStage(stage, state, detail, time.Now().UTC()); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if s.index != nil {
		_ = s.index.upsertDeployment(&d)
	}
	return nil
}

// UpdatePlatform replaces platforms[name] with patch under the id's
// lock; invariant 5's "one of the inputs, not a merge artifact"
// guarantee falls out of doing the read-modify-write entirely inside
// the critical section.
func (s *Store) UpdatePlatform(id, name string, patch transaction.PlatformStatus) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	var d transaction.Deployment
	if err := readJSON(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if err := d.UpdatePlatform(name, patch); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if s.index != nil {
		_ = s.index.upsertDeployment(&d)
	}
	return nil
}

// Finalize sets the terminal status, idempotently.
func (s *Store) Finalize(id string, status transaction.Status) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	var d transaction.Deployment
	if err := readJSON(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if err := d.Finalize(status, time.Now().UTC()); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if s.index != nil {
		_ = s.index.upsertDeployment(&d)
	}
	return nil
}

// SetRollbackLink records the back-link from a deployment to the
// rollback transaction opened against it.
func (s *Store) SetRollbackLink(id, rollbackID string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	var d transaction.Deployment
	if err := readJSON(s.deploymentPath(id), &d); err != nil {
		return err
	}
	d.RollbackTransactionID = rollbackID
	if err := writeJSONAtomic(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if s.index != nil {
		_ = s.index.upsertDeployment(&d)
	}
	return nil
}

// RequestCancel sets the cooperative cancel flag read by workers at
// their next suspension point.
func (s *Store) RequestCancel(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	var d transaction.Deployment
	if err := readJSON(s.deploymentPath(id), &d); err != nil {
		return err
	}
	if d.Status.Terminal() {
		return fmt.Errorf("store: transaction %s is already terminal (%s)", id, d.Status)
	}
	d.CancelRequested = true
	return writeJSONAtomic(s.deploymentPath(id), &d)
}

// ListRecent returns up to n deployments most-recently-started first.
// It reads the derived sqlite index when available and falls back to a
// directory scan otherwise (e.g. if the index file could not be
// opened).
func (s *Store) ListRecent(n int) ([]*transaction.Deployment, error) {
	if s.index != nil {
		ids, err := s.index.listRecentIDs(n)
		if err == nil {
			out := make([]*transaction.Deployment, 0, len(ids))
			for _, id := range ids {
				d, err := s.Get(id)
				if err == nil {
					out = append(out, d)
				}
			}
			return out, nil
		}
	}
	return s.scanRecent(n, "")
}

// FindLatestForPackage returns the most recently started deployment
// for pkg, or nil if none exists.
func (s *Store) FindLatestForPackage(pkg string) (*transaction.Deployment, error) {
	if s.index != nil {
		id, err := s.index.latestIDForPackage(pkg)
		if err == nil && id != "" {
			return s.Get(id)
		}
	}
	all, err := s.scanRecent(0, pkg)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (s *Store) scanRecent(n int, pkgFilter string) ([]*transaction.Deployment, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, transactionsDir))
	if err != nil {
		return nil, err
	}
	out := make([]*transaction.Deployment, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var d transaction.Deployment
		if err := readJSON(filepath.Join(s.dataDir, transactionsDir, e.Name()), &d); err != nil {
			continue
		}
		if pkgFilter != "" && d.Package != pkgFilter {
			continue
		}
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// rebuildIndexIfStale repopulates the sqlite index from the JSON files
// when the index is empty but transaction files exist — e.g. first run
// against an existing data directory, or index.sqlite was deleted.
func (s *Store) rebuildIndexIfStale() error {
	if s.index == nil {
		return nil
	}
	count, err := s.index.count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	all, err := s.scanRecent(0, "")
	if err != nil {
		return nil // no transactions yet; nothing to rebuild
	}
	for _, d := range all {
		_ = s.index.upsertDeployment(d)
	}
	return nil
}

// --- Rollback records ---

func (s *Store) CreateRollback(r *transaction.Rollback) error {
	unlock := s.locks.Lock(r.ID)
	defer unlock()
	return writeJSONAtomic(s.rollbackPath(r.ID), r)
}

func (s *Store) GetRollback(id string) (*transaction.Rollback, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	var r transaction.Rollback
	if err := readJSON(s.rollbackPath(id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SaveRollback(r *transaction.Rollback) error {
	unlock := s.locks.Lock(r.ID)
	defer unlock()
	return writeJSONAtomic(s.rollbackPath(r.ID), r)
}

// --- JSON helpers ---

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// writeJSONAtomic writes via a temp file + rename + fsync so readers
// never observe a torn value (§4.4 durability clause).
func writeJSONAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
