package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// CreateSession opens a presence session and returns its id.
func (s *Store) CreateSession(ctx context.Context, venueID, userID string, snapshot domain.SessionContext) (string, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode session context: %w", err)
	}
	started := snapshot.At
	if started.IsZero() {
		started = domain.Now()
	}

	id := uuid.NewString()
	if _, err := s.exec(ctx, `INSERT INTO presence_sessions (id, venue_id, user_id, started_at, context)
		VALUES (?, ?, ?, ?, ?)`, id, venueID, userID, started.UTC(), string(raw)); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	s.logger.Debug("session created", "session_id", id, "venue_id", venueID)
	return id, nil
}

// CloseSession stamps ended_at on an open session. It returns
// domain.ErrSessionNotOpen when the session is unknown or already closed.
func (s *Store) CloseSession(ctx context.Context, sessionID string) error {
	res, err := s.exec(ctx, `UPDATE presence_sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		domain.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("close session %s: %w", sessionID, domain.ErrSessionNotOpen)
	}
	s.logger.Debug("session closed", "session_id", sessionID)
	return nil
}

// OpenSession returns the user's most recent open session, if any.
func (s *Store) OpenSession(ctx context.Context, userID string) (domain.Session, bool, error) {
	row := s.queryRow(ctx, `SELECT id, venue_id, user_id, started_at, context
		FROM presence_sessions WHERE user_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, userID)

	var (
		sess    domain.Session
		started time.Time
		raw     string
	)
	err := row.Scan(&sess.ID, &sess.VenueID, &sess.UserID, &started, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("open session: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &sess.Context); err != nil {
		return domain.Session{}, false, fmt.Errorf("decode session context: %w", err)
	}
	sess.StartedAt = started.UTC()
	return sess, true, nil
}
