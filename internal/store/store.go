// Package store persists venues and presence sessions in PostgreSQL or SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/trackside-presence/internal/config"
)

// Store is the SQL access layer. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the database for driver (config.DriverSQLite or
// config.DriverPostgres) and verifies the connection.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	var name string
	switch driver {
	case config.DriverPostgres:
		name = "postgres"
	case config.DriverSQLite:
		name = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == config.DriverSQLite {
		// One writer keeps SQLite from returning SQLITE_BUSY under concurrent sessions.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	logger.Info("store connected", "driver", driver)
	return &Store{db: db, driver: driver, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}
