package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raki39/frontgraph/pkg/engine"
	"github.com/raki39/frontgraph/pkg/masking"
	"github.com/raki39/frontgraph/pkg/models"
)

// ConnectionService manages target database connections. Mutations bump
// the version and discard the pooled engine handle so the next run dials
// fresh.
type ConnectionService struct {
	pool    *pgxpool.Pool
	engines *engine.Manager
}

// NewConnectionService creates a ConnectionService.
func NewConnectionService(pool *pgxpool.Pool, engines *engine.Manager) *ConnectionService {
	return &ConnectionService{pool: pool, engines: engines}
}

const (
	insertConnectionSQL = `INSERT INTO connections (id, owner_user_id, kind, payload, version, created_at)
		VALUES ($1, $2, $3, $4, 1, NOW())`

	selectConnectionSQL = `SELECT id, owner_user_id, kind, payload, version, created_at FROM connections`

	updateConnectionSQL = `UPDATE connections SET payload = $3, version = version + 1
		WHERE id = $1 AND owner_user_id = $2`

	deleteConnectionSQL = `DELETE FROM connections WHERE id = $1 AND owner_user_id = $2`
)

// ProbeResult is the outcome of a connection test.
type ProbeResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Tipo    string `json:"tipo"`
}

// Probe dials the connection once without persisting anything. Error
// messages are masked before they reach the client.
func (s *ConnectionService) Probe(ctx context.Context, kind models.ConnectionKind, payload models.ConnectionPayload) ProbeResult {
	if !kind.Valid() {
		return ProbeResult{Valid: false, Message: fmt.Sprintf("unsupported kind %q", kind), Tipo: string(kind)}
	}
	if err := s.engines.Probe(ctx, kind, payload); err != nil {
		return ProbeResult{Valid: false, Message: masking.Error(err), Tipo: string(kind)}
	}
	return ProbeResult{Valid: true, Message: "connection successful", Tipo: string(kind)}
}

// Create validates and persists a connection.
func (s *ConnectionService) Create(ctx context.Context, userID string, kind models.ConnectionKind, payload models.ConnectionPayload) (*models.Connection, error) {
	if !kind.Valid() {
		return nil, NewValidationError("kind", "must be sqlite, postgres or clickhouse")
	}
	if err := validatePayload(kind, payload); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx, insertConnectionSQL, id, userID, string(kind), raw); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	return s.Get(ctx, userID, id)
}

// Get loads one owned connection.
func (s *ConnectionService) Get(ctx context.Context, userID, id string) (*models.Connection, error) {
	row := s.pool.QueryRow(ctx, selectConnectionSQL+` WHERE id = $1 AND owner_user_id = $2`, id, userID)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conn, err
}

// GetAny loads a connection regardless of owner; used by workers that
// already hold a validated run record.
func (s *ConnectionService) GetAny(ctx context.Context, id string) (*models.Connection, error) {
	row := s.pool.QueryRow(ctx, selectConnectionSQL+` WHERE id = $1`, id)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conn, err
}

// List returns the user's connections.
func (s *ConnectionService) List(ctx context.Context, userID string) ([]*models.Connection, error) {
	rows, err := s.pool.Query(ctx, selectConnectionSQL+` WHERE owner_user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// Update replaces the payload, bumps the version and invalidates the
// pooled engine handle for the old payload.
func (s *ConnectionService) Update(ctx context.Context, userID, id string, payload models.ConnectionPayload) (*models.Connection, error) {
	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := validatePayload(current.Kind, payload); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	tag, err := s.pool.Exec(ctx, updateConnectionSQL, id, userID, raw)
	if err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	s.engines.Invalidate(current.Kind, current.Payload)
	return s.Get(ctx, userID, id)
}

// Delete removes an owned connection and discards its engine handle.
func (s *ConnectionService) Delete(ctx context.Context, userID, id string) error {
	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, deleteConnectionSQL, id, userID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.engines.Invalidate(current.Kind, current.Payload)
	return nil
}

func validatePayload(kind models.ConnectionKind, p models.ConnectionPayload) error {
	switch kind {
	case models.KindSQLite:
		if p.DatasetID == "" {
			return NewValidationError("dataset_id", "required for sqlite connections")
		}
	case models.KindPostgres, models.KindClickHouse:
		if p.Host == "" {
			return NewValidationError("host", "required")
		}
		if p.Database == "" {
			return NewValidationError("database", "required")
		}
	}
	return nil
}

func scanConnection(row pgx.Row) (*models.Connection, error) {
	var c models.Connection
	var kind string
	var raw []byte
	if err := row.Scan(&c.ID, &c.OwnerUserID, &kind, &raw, &c.Version, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Kind = models.ConnectionKind(kind)
	if err := json.Unmarshal(raw, &c.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &c, nil
}
