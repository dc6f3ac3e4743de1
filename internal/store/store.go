// Package store is the durable backing for version metadata, deployment
// history, metric samples and served predictions. It is a thin layer over a
// single sqlite file; write volume is low, so no batching is attempted.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pricingd/pkg/types"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS versions (
  version_id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  hash TEXT NOT NULL,
  path TEXT NOT NULL,
  tags TEXT NOT NULL DEFAULT '[]',
  metrics TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS deployments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  version_id TEXT NOT NULL,
  ts INTEGER NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  is_rollback INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS predictions (
  prediction_id TEXT PRIMARY KEY,
  ts INTEGER NOT NULL,
  model_version TEXT NOT NULL,
  latency_ms REAL NOT NULL,
  queue_size INTEGER NOT NULL DEFAULT 0,
  adjustments TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS perf_samples (
  ts INTEGER NOT NULL,
  latency_ms REAL NOT NULL,
  error INTEGER NOT NULL DEFAULT 0,
  queue_size INTEGER NOT NULL DEFAULT 0,
  accuracy REAL NOT NULL DEFAULT 0,
  spread_compliant INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS health_samples (
  ts INTEGER NOT NULL,
  memory_mb REAL NOT NULL,
  cpu_percent REAL NOT NULL,
  queue_size INTEGER NOT NULL DEFAULT 0,
  workers INTEGER NOT NULL DEFAULT 0,
  uptime_hours REAL NOT NULL DEFAULT 0
);
`)
	return err
}

// AppendVersion records a registered version. Version ids are unique;
// re-inserting one is an error.
func (s *Store) AppendVersion(ctx context.Context, v types.VersionInfo) error {
	tags, err := json.Marshal(v.Tags)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(v.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO versions(version_id, created_at, description, hash, path, tags, metrics)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, v.VersionID, v.CreatedAt.UnixNano(), v.Description, v.Hash, v.Path, string(tags), string(metrics))
	return err
}

// GetVersion returns the metadata for one version id.
func (s *Store) GetVersion(ctx context.Context, id string) (types.VersionInfo, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT version_id, created_at, description, hash, path, tags, metrics
FROM versions WHERE version_id = ?;
`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return types.VersionInfo{}, false, nil
	}
	if err != nil {
		return types.VersionInfo{}, false, err
	}
	return v, true, nil
}

// ListVersions returns all versions ordered by descending creation time.
func (s *Store) ListVersions(ctx context.Context) ([]types.VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT version_id, created_at, description, hash, path, tags, metrics
FROM versions ORDER BY created_at DESC, version_id DESC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.VersionInfo
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// HashExists reports whether any registered version already carries the
// given content hash.
func (s *Store) HashExists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE hash = ?;`, hash).Scan(&n)
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(r rowScanner) (types.VersionInfo, error) {
	var v types.VersionInfo
	var created int64
	var tags, metrics string
	if err := r.Scan(&v.VersionID, &created, &v.Description, &v.Hash, &v.Path, &tags, &metrics); err != nil {
		return v, err
	}
	v.CreatedAt = time.Unix(0, created)
	if err := json.Unmarshal([]byte(tags), &v.Tags); err != nil {
		return v, fmt.Errorf("decode tags for %s: %w", v.VersionID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &v.Metrics); err != nil {
		return v, fmt.Errorf("decode metrics for %s: %w", v.VersionID, err)
	}
	return v, nil
}
