package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ns INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	const latest = 1

	cur, err := currentVersion(ctx, d.DB)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latest; v++ {
		if err := apply(ctx, d.DB, v); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func apply(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch version {
	case 1:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS offers (
  uuid TEXT PRIMARY KEY,
  name TEXT,
  project_id TEXT NOT NULL,
  resource_type TEXT NOT NULL,
  resource_uuid TEXT NOT NULL,
  start_time_ns INTEGER NOT NULL,
  end_time_ns INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_offers_project_name
  ON offers(project_id, name) WHERE name IS NOT NULL AND name != '';
CREATE INDEX IF NOT EXISTS idx_offers_resource
  ON offers(resource_type, resource_uuid);
CREATE INDEX IF NOT EXISTS idx_offers_status ON offers(status);

CREATE TABLE IF NOT EXISTS leases (
  uuid TEXT PRIMARY KEY,
  name TEXT,
  project_id TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  offer_uuid TEXT NOT NULL REFERENCES offers(uuid),
  start_time_ns INTEGER NOT NULL,
  end_time_ns INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leases_project_name
  ON leases(project_id, name) WHERE name IS NOT NULL AND name != '';
CREATE INDEX IF NOT EXISTS idx_leases_offer ON leases(offer_uuid);
CREATE INDEX IF NOT EXISTS idx_leases_status_end
  ON leases(status, end_time_ns);

CREATE TABLE IF NOT EXISTS policies (
  uuid TEXT PRIMARY KEY,
  project_id TEXT NOT NULL,
  name TEXT,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lease_requests (
  uuid TEXT PRIMARY KEY,
  project_id TEXT NOT NULL,
  name TEXT,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_nodes (
  node_uuid TEXT PRIMARY KEY,
  policy_uuid TEXT NOT NULL REFERENCES policies(uuid),
  request_uuid TEXT REFERENCES lease_requests(uuid),
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policy_nodes_policy
  ON policy_nodes(policy_uuid);
`); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at_ns) VALUES(?, strftime('%s','now')*1000000000);`, version); err != nil {
		return err
	}
	return tx.Commit()
}
