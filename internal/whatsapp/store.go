package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rufuslabs/wappgate/internal/db"
)

// SessionStore persists connection session records.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (Session, error)
	Create(ctx context.Context, sessionID string, status Status) (Session, error)
	Update(ctx context.Context, sessionID string, upd SessionUpdate) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]Session, error)
}

// PgSessionStore is the PostgreSQL-backed SessionStore.
type PgSessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a session store over the given pool.
func NewSessionStore(pool *pgxpool.Pool) *PgSessionStore {
	return &PgSessionStore{pool: pool}
}

const sessionColumns = `id, session_id, status, credential, identity_address, connected_at, disconnected_at, created_at, updated_at`

// Get returns the session record for sessionID, or ErrSessionNotFound.
func (s *PgSessionStore) Get(ctx context.Context, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM whatsapp_sessions WHERE session_id = $1`,
		strings.TrimSpace(sessionID))
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return Session{}, err
	}
	return session, nil
}

// Create inserts a new session record with the given status.
func (s *PgSessionStore) Create(ctx context.Context, sessionID string, status Status) (Session, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO whatsapp_sessions (session_id, status) VALUES ($1, $2) RETURNING `+sessionColumns,
		strings.TrimSpace(sessionID), string(status))
	session, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("create session record: %w", err)
	}
	return session, nil
}

// Update applies a partial update; nil fields are left untouched.
func (s *PgSessionStore) Update(ctx context.Context, sessionID string, upd SessionUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{strings.TrimSpace(sessionID)}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Credential != nil {
		add("credential", db.PgText(*upd.Credential))
	}
	if upd.IdentityAddress != nil {
		add("identity_address", db.PgText(*upd.IdentityAddress))
	}
	if upd.ConnectedAt != nil {
		add("connected_at", db.PgTime(*upd.ConnectedAt))
	}
	if upd.DisconnectedAt != nil {
		add("disconnected_at", db.PgTime(*upd.DisconnectedAt))
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE whatsapp_sessions SET `+strings.Join(sets, ", ")+` WHERE session_id = $1`,
		args...)
	if err != nil {
		return fmt.Errorf("update session record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Delete removes the session record.
func (s *PgSessionStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM whatsapp_sessions WHERE session_id = $1`, strings.TrimSpace(sessionID))
	if err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// List returns all session records ordered by creation time.
func (s *PgSessionStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM whatsapp_sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	defer rows.Close()

	items := make([]Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, session)
	}
	return items, rows.Err()
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		id             pgtype.UUID
		credential     pgtype.Text
		identity       pgtype.Text
		connectedAt    pgtype.Timestamptz
		disconnectedAt pgtype.Timestamptz
		createdAt      pgtype.Timestamptz
		updatedAt      pgtype.Timestamptz
		session        Session
		status         string
	)
	if err := row.Scan(&id, &session.SessionID, &status, &credential, &identity,
		&connectedAt, &disconnectedAt, &createdAt, &updatedAt); err != nil {
		return Session{}, err
	}
	session.ID = db.UUIDString(id)
	session.Status = Status(status)
	session.Credential = db.TextToString(credential)
	session.IdentityAddress = db.TextToString(identity)
	session.ConnectedAt = db.TimeFromPg(connectedAt)
	session.DisconnectedAt = db.TimeFromPg(disconnectedAt)
	session.CreatedAt = db.TimeFromPg(createdAt)
	session.UpdatedAt = db.TimeFromPg(updatedAt)
	return session, nil
}
