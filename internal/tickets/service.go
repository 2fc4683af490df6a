// Package tickets records human-handoff requests so attendants can see
// who is waiting.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rufuslabs/wappgate/internal/db"
)

// Ticket statuses.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// ErrTicketNotFound reports an unknown ticket id.
var ErrTicketNotFound = errors.New("ticket not found")

// Ticket is one handoff request.
type Ticket struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at,omitzero"`
}

// Service manages tickets.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates the ticket service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, logger: log.With(slog.String("service", "tickets"))}
}

// Open creates an OPEN ticket for the lead unless one is already open;
// repeated handoffs while an attendant is pending collapse into the
// existing ticket.
func (s *Service) Open(ctx context.Context, leadID, sessionID string) (Ticket, error) {
	existing, err := s.openFor(ctx, leadID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrTicketNotFound) {
		return Ticket{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tickets (lead_id, session_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, lead_id, session_id, status, created_at, closed_at`,
		leadID, sessionID, StatusOpen)
	ticket, err := scanTicket(row)
	if err != nil {
		return Ticket{}, err
	}
	s.logger.Info("ticket opened",
		slog.String("ticket_id", ticket.ID),
		slog.String("lead_id", leadID))
	return ticket, nil
}

// List returns tickets, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string) ([]Ticket, error) {
	query := `SELECT id, lead_id, session_id, status, created_at, closed_at FROM tickets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	items := make([]Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ticket)
	}
	return items, rows.Err()
}

// Close marks the ticket closed.
func (s *Service) Close(ctx context.Context, ticketID string) (Ticket, error) {
	id, err := db.ParseUUID(ticketID)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %s", ErrTicketNotFound, ticketID)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE tickets SET status = $2, closed_at = now()
		WHERE id = $1
		RETURNING id, lead_id, session_id, status, created_at, closed_at`,
		id, StatusClosed)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, fmt.Errorf("%w: %s", ErrTicketNotFound, ticketID)
		}
		return Ticket{}, err
	}
	return ticket, nil
}

func (s *Service) openFor(ctx context.Context, leadID string) (Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, lead_id, session_id, status, created_at, closed_at
		FROM tickets WHERE lead_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`,
		leadID, StatusOpen)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, fmt.Errorf("%w: open for lead %s", ErrTicketNotFound, leadID)
		}
		return Ticket{}, err
	}
	return ticket, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (Ticket, error) {
	var (
		id        pgtype.UUID
		leadID    pgtype.UUID
		sessionID pgtype.Text
		createdAt pgtype.Timestamptz
		closedAt  pgtype.Timestamptz
		ticket    Ticket
	)
	if err := row.Scan(&id, &leadID, &sessionID, &ticket.Status, &createdAt, &closedAt); err != nil {
		return Ticket{}, err
	}
	ticket.ID = db.UUIDString(id)
	ticket.LeadID = db.UUIDString(leadID)
	ticket.SessionID = db.TextToString(sessionID)
	ticket.CreatedAt = db.TimeFromPg(createdAt)
	ticket.ClosedAt = db.TimeFromPg(closedAt)
	return ticket, nil
}
