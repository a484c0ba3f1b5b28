package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raki39/frontgraph/pkg/models"
)

// AnswerCache is the slice of the response cache the agent service needs
// for the invalidation hook.
type AnswerCache interface {
	InvalidateAgent(agentID string)
}

// AgentService manages agent configurations. Every update bumps the
// version so workers rebuild the agent bundle; an update that changes the
// table configuration also invalidates the agent's cached answers
// wholesale. The connection binding is fixed at creation.
type AgentService struct {
	pool  *pgxpool.Pool
	cache AnswerCache
}

// NewAgentService creates an AgentService. cache may be nil.
func NewAgentService(pool *pgxpool.Pool, cache AnswerCache) *AgentService {
	return &AgentService{pool: pool, cache: cache}
}

const (
	insertAgentSQL = `INSERT INTO agents (id, owner_user_id, name, connection_id, model_id, top_k, included_tables,
		advanced, processing_enabled, refinement_enabled, single_table_mode, selected_table, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, NOW())`

	selectAgentSQL = `SELECT id, owner_user_id, name, connection_id, model_id, top_k, included_tables,
		advanced, processing_enabled, refinement_enabled, single_table_mode, selected_table, version, created_at
		FROM agents`

	updateAgentSQL = `UPDATE agents SET name = $3, model_id = $4, top_k = $5, included_tables = $6,
		advanced = $7, processing_enabled = $8, refinement_enabled = $9, single_table_mode = $10,
		selected_table = $11, version = version + 1
		WHERE id = $1 AND owner_user_id = $2`

	deleteAgentSQL = `DELETE FROM agents WHERE id = $1 AND owner_user_id = $2`
)

// AgentParams carries the mutable agent configuration.
type AgentParams struct {
	Name              string `json:"name"`
	ConnectionID      string `json:"connection_id"`
	ModelID           string `json:"model_id"`
	TopK              int    `json:"top_k"`
	IncludedTables    string `json:"included_tables"`
	Advanced          bool   `json:"advanced"`
	ProcessingEnabled bool   `json:"processing_enabled"`
	RefinementEnabled bool   `json:"refinement_enabled"`
	SingleTableMode   bool   `json:"single_table_mode"`
	SelectedTable     string `json:"selected_table"`
}

func (p *AgentParams) validate() error {
	if p.Name == "" {
		return NewValidationError("name", "required")
	}
	if p.ModelID == "" {
		return NewValidationError("model_id", "required")
	}
	if p.TopK < 1 {
		return NewValidationError("top_k", "must be at least 1")
	}
	if p.SingleTableMode && p.SelectedTable == "" {
		return NewValidationError("selected_table", "required when single_table_mode is enabled")
	}
	if p.IncludedTables == "" {
		p.IncludedTables = "*"
	}
	return nil
}

// Create binds a new agent to one of the user's connections. The binding
// is immutable: updates never move an agent to another connection.
func (s *AgentService) Create(ctx context.Context, userID string, params AgentParams) (*models.Agent, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if params.ConnectionID == "" {
		return nil, NewValidationError("connection_id", "required")
	}

	var connOwner string
	err := s.pool.QueryRow(ctx, `SELECT owner_user_id FROM connections WHERE id = $1`, params.ConnectionID).Scan(&connOwner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && connOwner != userID) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}

	id := uuid.New().String()
	_, err = s.pool.Exec(ctx, insertAgentSQL, id, userID, params.Name, params.ConnectionID, params.ModelID,
		params.TopK, params.IncludedTables, params.Advanced, params.ProcessingEnabled,
		params.RefinementEnabled, params.SingleTableMode, params.SelectedTable)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return s.Get(ctx, userID, id)
}

// Get loads one owned agent.
func (s *AgentService) Get(ctx context.Context, userID, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, selectAgentSQL+` WHERE id = $1 AND owner_user_id = $2`, id, userID)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return agent, err
}

// GetAny loads an agent regardless of owner; used by workers that already
// hold a validated run record.
func (s *AgentService) GetAny(ctx context.Context, id string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, selectAgentSQL+` WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return agent, err
}

// List returns the user's agents.
func (s *AgentService) List(ctx context.Context, userID string) ([]*models.Agent, error) {
	rows, err := s.pool.Query(ctx, selectAgentSQL+` WHERE owner_user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

// Update applies new configuration, bumps the version and — when the
// table scope changed — drops the agent's cached answers wholesale.
func (s *AgentService) Update(ctx context.Context, userID, id string, params AgentParams) (*models.Agent, error) {
	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, updateAgentSQL, id, userID, params.Name, params.ModelID, params.TopK,
		params.IncludedTables, params.Advanced, params.ProcessingEnabled, params.RefinementEnabled,
		params.SingleTableMode, params.SelectedTable)
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if s.cache != nil && (params.IncludedTables != current.IncludedTables ||
		params.SingleTableMode != current.SingleTableMode ||
		params.SelectedTable != current.SelectedTable) {
		s.cache.InvalidateAgent(id)
	}
	return s.Get(ctx, userID, id)
}

// Delete removes an owned agent and drops its cached answers.
func (s *AgentService) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, deleteAgentSQL, id, userID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if s.cache != nil {
		s.cache.InvalidateAgent(id)
	}
	return nil
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	if err := row.Scan(&a.ID, &a.OwnerUserID, &a.Name, &a.ConnectionID, &a.ModelID, &a.TopK,
		&a.IncludedTables, &a.Advanced, &a.ProcessingEnabled, &a.RefinementEnabled,
		&a.SingleTableMode, &a.SelectedTable, &a.Version, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
