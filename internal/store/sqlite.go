package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kubilitics/shipctl/internal/transaction"
)

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS deployments (
	id TEXT PRIMARY KEY,
	package TEXT NOT NULL,
	version TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_package ON deployments(package, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_deployments_started ON deployments(started_at DESC);
`,
	},
}

// index is the derived sqlite cache over the canonical JSON files. It
// is never read as a source of truth — ListRecent/FindLatestForPackage
// use it only to avoid a directory scan; store.go always falls back to
// scanning the JSON files if the index cannot serve a query.
type index struct {
	db *sql.DB
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // WAL + single writer keeps this simple; reads and writes share the one connection
	idx := &index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *index) migrate() error {
	if _, err := i.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return err
	}
	for _, m := range migrations {
		var exists int
		if err := i.db.QueryRow(`SELECT COUNT(1) FROM schema_versions WHERE version = ?`, m.version).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		tx, err := i.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)`, m.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (i *index) Close() error { return i.db.Close() }

func (i *index) upsertDeployment(d *transaction.Deployment) error {
	_, err := i.db.Exec(
		`INSERT INTO deployments (id, package, version, status, started_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET package=excluded.package, version=excluded.version, status=excluded.status, started_at=excluded.started_at`,
		d.ID, d.Package, d.Version, string(d.Status), d.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (i *index) count() (int, error) {
	var n int
	err := i.db.QueryRow(`SELECT COUNT(1) FROM deployments`).Scan(&n)
	return n, err
}

func (i *index) listRecentIDs(n int) ([]string, error) {
	q := `SELECT id FROM deployments ORDER BY started_at DESC`
	var rows *sql.Rows
	var err error
	if n > 0 {
		q += ` LIMIT ?`
		rows, err = i.db.Query(q, n)
	} else {
		rows, err = i.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (i *index) latestIDForPackage(pkg string) (string, error) {
	var id string
	err := i.db.QueryRow(`SELECT id FROM deployments WHERE package = ? ORDER BY started_at DESC LIMIT 1`, pkg).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}
