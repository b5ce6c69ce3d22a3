package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// ListVenues returns every venue ordered by id.
func (s *Store) ListVenues(ctx context.Context) ([]domain.Venue, error) {
	rows, err := s.query(ctx, `SELECT id, name, latitude, longitude, detection_radius_m, city, state, surface, website
		FROM venues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	defer rows.Close()

	var venues []domain.Venue
	for rows.Next() {
		var v domain.Venue
		if err := rows.Scan(&v.ID, &v.Name, &v.Lat, &v.Lon, &v.DetectionRadiusMeters, &v.City, &v.State, &v.Surface, &v.Website); err != nil {
			return nil, fmt.Errorf("scan venue: %w", err)
		}
		venues = append(venues, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	return venues, nil
}

// UpsertVenues inserts or replaces venues in a single transaction.
func (s *Store) UpsertVenues(ctx context.Context, venues []domain.Venue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert venues: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO venues
		(id, name, latitude, longitude, detection_radius_m, city, state, surface, website)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			detection_radius_m = excluded.detection_radius_m,
			city = excluded.city,
			state = excluded.state,
			surface = excluded.surface,
			website = excluded.website`))
	if err != nil {
		return fmt.Errorf("prepare upsert venues: %w", err)
	}
	defer stmt.Close()

	for _, v := range venues {
		if v.ID == "" {
			return fmt.Errorf("upsert venue %q: missing id", v.Name)
		}
		if _, err := stmt.ExecContext(ctx, v.ID, v.Name, v.Lat, v.Lon, v.DetectionRadiusMeters, v.City, v.State, v.Surface, v.Website); err != nil {
			return fmt.Errorf("upsert venue %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert venues: %w", err)
	}
	s.logger.Info("venues upserted", "count", len(venues))
	return nil
}
