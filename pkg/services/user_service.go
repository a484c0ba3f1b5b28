package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/raki39/frontgraph/pkg/models"
)

// UserService handles registration and credential verification. Passwords
// are stored as bcrypt hashes only.
type UserService struct {
	pool *pgxpool.Pool
}

// NewUserService creates a UserService.
func NewUserService(pool *pgxpool.Pool) *UserService {
	return &UserService{pool: pool}
}

const (
	insertUserSQL = `INSERT INTO users (id, email, password_hash, display_name, role, active, created_at)
		VALUES ($1, $2, $3, $4, 'user', TRUE, NOW())`

	selectUserSQL = `SELECT id, email, password_hash, display_name, role, active, created_at FROM users`
)

// Register creates a new active user.
func (s *UserService) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, NewValidationError("email", "must be a valid address")
	}
	if len(password) < 8 {
		return nil, NewValidationError("password", "must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx, insertUserSQL, id, email, string(hash), displayName); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Authenticate verifies an email/password pair, returning the user on
// success. Unknown emails and bad passwords are indistinguishable.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.scanOne(s.pool.QueryRow(ctx, selectUserSQL+` WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetByID loads one user.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := s.scanOne(s.pool.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *UserService) scanOne(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
