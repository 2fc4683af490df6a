// Package users manages operator accounts for the HTTP API.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/rufuslabs/wappgate/internal/db"
)

// Roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

var (
	// ErrUserNotFound reports an unknown username.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials reports a failed password check.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is one operator account. The password hash never leaves the
// package.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	passwordHash string
}

// Service manages accounts.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates the user service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, logger: log.With(slog.String("service", "users"))}
}

// Authenticate checks username/password and returns the account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	user, err := s.getByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.passwordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Create inserts a new account.
func (s *Service) Create(ctx context.Context, username, password, role string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, username, password_hash, role, display_name, created_at`,
		username, string(hash), role)
	user, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("username %q already taken", username)
		}
		return User{}, err
	}
	s.logger.Info("user created", slog.String("username", username), slog.String("role", role))
	return user, nil
}

// EnsureAdmin creates the bootstrap admin account on first run. An
// existing account with the same username is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.getByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	_, err = s.Create(ctx, username, password, RoleAdmin)
	return err
}

func (s *Service) getByUsername(ctx context.Context, username string) (User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, display_name, created_at
		FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return User{}, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id          pgtype.UUID
		displayName pgtype.Text
		createdAt   pgtype.Timestamptz
		user        User
	)
	if err := row.Scan(&id, &user.Username, &user.passwordHash, &user.Role, &displayName, &createdAt); err != nil {
		return User{}, err
	}
	user.ID = db.UUIDString(id)
	user.DisplayName = db.TextToString(displayName)
	user.CreatedAt = db.TimeFromPg(createdAt)
	return user, nil
}
