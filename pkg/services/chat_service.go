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

// MaxPageSize bounds paginated reads.
const MaxPageSize = 100

// ChatService manages chat sessions and their paginated message history.
type ChatService struct {
	pool *pgxpool.Pool
}

// NewChatService creates a ChatService.
func NewChatService(pool *pgxpool.Pool) *ChatService {
	return &ChatService{pool: pool}
}

const (
	insertChatSessionSQL = `INSERT INTO chat_sessions (id, user_id, agent_id, title, status, total_messages, created_at, last_activity)
		VALUES ($1, $2, $3, $4, 'active', 0, NOW(), NOW())`

	selectChatSessionSQL = `SELECT id, user_id, agent_id, title, status, total_messages, context_summary, created_at, last_activity
		FROM chat_sessions`

	updateChatSessionSQL = `UPDATE chat_sessions SET title = $3, status = $4
		WHERE id = $1 AND user_id = $2`

	deleteChatSessionSQL = `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`

	selectMessagesSQL = `SELECT id, chat_session_id, COALESCE(run_id, ''), role, content, sql_query, sequence_order, created_at
		FROM messages WHERE chat_session_id = $1
		ORDER BY sequence_order DESC
		LIMIT $2 OFFSET $3`
)

// Create opens a new session between the user and one of their agents.
func (s *ChatService) Create(ctx context.Context, userID, agentID, title string) (*models.ChatSession, error) {
	if agentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	if title == "" {
		return nil, NewValidationError("title", "required")
	}

	var agentOwner string
	err := s.pool.QueryRow(ctx, `SELECT owner_user_id FROM agents WHERE id = $1`, agentID).Scan(&agentOwner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && agentOwner != userID) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx, insertChatSessionSQL, id, userID, agentID, title); err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	return s.Get(ctx, userID, id)
}

// Get loads one owned session.
func (s *ChatService) Get(ctx context.Context, userID, id string) (*models.ChatSession, error) {
	row := s.pool.QueryRow(ctx, selectChatSessionSQL+` WHERE id = $1 AND user_id = $2`, id, userID)
	sess, err := scanChatSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListByAgent returns the user's sessions for one agent, most recently
// active first, paginated.
func (s *ChatService) ListByAgent(ctx context.Context, userID, agentID string, page, perPage int) ([]*models.ChatSession, models.Pagination, error) {
	page, perPage = clampPage(page, perPage)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE user_id = $1 AND agent_id = $2`,
		userID, agentID).Scan(&total); err != nil {
		return nil, models.Pagination{}, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		selectChatSessionSQL+` WHERE user_id = $1 AND agent_id = $2 ORDER BY last_activity DESC LIMIT $3 OFFSET $4`,
		userID, agentID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatSession
	for rows.Next() {
		sess, err := scanChatSession(rows)
		if err != nil {
			return nil, models.Pagination{}, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Pagination{}, err
	}
	return out, models.NewPagination(page, perPage, total), nil
}

// Messages returns one page of the session's messages, newest page first.
func (s *ChatService) Messages(ctx context.Context, userID, sessionID string, page, perPage int) ([]*models.Message, models.Pagination, error) {
	// Ownership first: messages are only reachable through an owned
	// session.
	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, models.Pagination{}, err
	}

	page, perPage = clampPage(page, perPage)

	rows, err := s.pool.Query(ctx, selectMessagesSQL, sessionID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatSessionID, &m.RunID, &m.Role, &m.Content, &m.SQLQuery, &m.SequenceOrder, &m.CreatedAt); err != nil {
			return nil, models.Pagination{}, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Pagination{}, err
	}
	return out, models.NewPagination(page, perPage, sess.TotalMessages), nil
}

// Update renames or archives an owned session.
func (s *ChatService) Update(ctx context.Context, userID, id, title, status string) (*models.ChatSession, error) {
	if status != models.SessionActive && status != models.SessionArchived {
		return nil, NewValidationError("status", "must be active or archived")
	}
	tag, err := s.pool.Exec(ctx, updateChatSessionSQL, id, userID, title, status)
	if err != nil {
		return nil, fmt.Errorf("update chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, userID, id)
}

// Delete removes an owned session; messages and embeddings cascade.
func (s *ChatService) Delete(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, deleteChatSessionSQL, id, userID)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPageSize {
		perPage = MaxPageSize
	}
	return page, perPage
}

func scanChatSession(row pgx.Row) (*models.ChatSession, error) {
	var c models.ChatSession
	if err := row.Scan(&c.ID, &c.UserID, &c.AgentID, &c.Title, &c.Status, &c.TotalMessages,
		&c.ContextSummary, &c.CreatedAt, &c.LastActivity); err != nil {
		return nil, err
	}
	return &c, nil
}
