package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/trackside-presence/internal/config"
)

type migration struct {
	version int
	name    string
	sqlite  string
	pg      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create venues",
		sqlite: `CREATE TABLE IF NOT EXISTS venues (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			detection_radius_m REAL NOT NULL DEFAULT 0,
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			surface TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT ''
		)`,
		pg: `CREATE TABLE IF NOT EXISTS venues (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			detection_radius_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			surface TEXT NOT NULL DEFAULT '',
			website TEXT NOT NULL DEFAULT ''
		)`,
	},
	{
		version: 2,
		name:    "create presence_sessions",
		sqlite: `CREATE TABLE IF NOT EXISTS presence_sessions (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			context TEXT NOT NULL
		)`,
		pg: `CREATE TABLE IF NOT EXISTS presence_sessions (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			context JSONB NOT NULL
		)`,
	},
	{
		version: 3,
		name:    "index open sessions by user",
		sqlite:  `CREATE INDEX IF NOT EXISTS presence_sessions_user_open ON presence_sessions (user_id, ended_at)`,
		pg:      `CREATE INDEX IF NOT EXISTS presence_sessions_user_open ON presence_sessions (user_id) WHERE ended_at IS NULL`,
	},
}

// Migrate applies pending schema migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		stmt := m.sqlite
		if s.driver == config.DriverPostgres {
			stmt = m.pg
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`), m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		s.logger.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}
