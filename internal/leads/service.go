// Package leads tracks the people who message the gateway, keyed by
// phone number.
package leads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rufuslabs/wappgate/internal/db"
)

// Lead is one known contact.
type Lead struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service manages leads.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates the lead service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, logger: log.With(slog.String("service", "leads"))}
}

// GetOrCreate upserts a lead by phone. A non-empty name backfills a lead
// that was created without one, but never overwrites an existing name.
func (s *Service) GetOrCreate(ctx context.Context, phone, name string) (Lead, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO leads (phone, name)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (phone) DO UPDATE
		SET name = COALESCE(leads.name, NULLIF($2, '')), updated_at = now()
		RETURNING id, phone, name, created_at, updated_at`,
		phone, name)
	return scanLead(row)
}

// Get returns the lead for phone.
func (s *Service) Get(ctx context.Context, phone string) (Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, phone, name, created_at, updated_at FROM leads WHERE phone = $1`, phone)
	return scanLead(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var (
		id        pgtype.UUID
		name      pgtype.Text
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
		lead      Lead
	)
	if err := row.Scan(&id, &lead.Phone, &name, &createdAt, &updatedAt); err != nil {
		return Lead{}, fmt.Errorf("scan lead: %w", err)
	}
	lead.ID = db.UUIDString(id)
	lead.Name = db.TextToString(name)
	lead.CreatedAt = db.TimeFromPg(createdAt)
	lead.UpdatedAt = db.TimeFromPg(updatedAt)
	return lead, nil
}
