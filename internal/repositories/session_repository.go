package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vidmirror/backend/internal/db"
	"github.com/vidmirror/backend/internal/session"
)

// PostgresSessionStore persists visitor sessions to PostgreSQL.
type PostgresSessionStore struct {
	pool db.Pool
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Save stores or updates a session record.
func (s *PostgresSessionStore) Save(ctx context.Context, record session.Record) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return unavailable("acquire connection", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO visitor_sessions (id, data, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (id)
        DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at
    `, record.ID, record.Data, record.ExpiresAt.UTC())
	if err != nil {
		return unavailable("upsert session", err)
	}

	return nil
}

// Find loads a session by id.
func (s *PostgresSessionStore) Find(ctx context.Context, id string) (session.Record, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return session.Record{}, unavailable("acquire connection", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, data, expires_at
        FROM visitor_sessions
        WHERE id = $1
    `, id)

	var record session.Record
	var expiresAt time.Time
	if err := row.Scan(&record.ID, &record.Data, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Record{}, session.ErrSessionNotFound
		}
		return session.Record{}, unavailable("select session", err)
	}

	record.ExpiresAt = expiresAt.UTC()
	return record, nil
}

// Delete removes a session by id.
func (s *PostgresSessionStore) Delete(ctx context.Context, id string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return unavailable("acquire connection", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM visitor_sessions
        WHERE id = $1
    `, id)
	if err != nil {
		return unavailable("delete session", err)
	}

	if tag.RowsAffected() == 0 {
		return session.ErrSessionNotFound
	}

	return nil
}

// DeleteExpired purges sessions whose expiry is before now.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, unavailable("acquire connection", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM visitor_sessions WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, unavailable("purge sessions", err)
	}
	return tag.RowsAffected(), nil
}

var _ session.Store = (*PostgresSessionStore)(nil)
