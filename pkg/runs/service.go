// Package runs is the run controller: the contract the API façade
// consumes to create, read, list and cancel runs. Creating a run inserts
// the queued record — the insert itself is the publish, since workers
// claim queued rows directly from the database.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raki39/frontgraph/pkg/models"
	"github.com/raki39/frontgraph/pkg/services"
)

// MaxPageSize bounds list pagination.
const MaxPageSize = 100

// ErrNotCancellable is returned when cancelling a run that already left
// the queued state; in-flight runs continue to natural termination.
var ErrNotCancellable = errors.New("run is not in a cancellable state")

// Service implements the run controller over the metadata database.
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates the run controller.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const (
	agentOwnerSQL = `SELECT owner_user_id FROM agents WHERE id = $1`

	sessionOwnerSQL = `SELECT user_id, agent_id FROM chat_sessions WHERE id = $1`

	insertSessionSQL = `INSERT INTO chat_sessions (id, user_id, agent_id, title, status, total_messages, created_at, last_activity)
		VALUES ($1, $2, $3, $4, 'active', 0, NOW(), NOW())`

	insertRunSQL = `INSERT INTO runs (id, agent_id, user_id, chat_session_id, question, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', NOW())`

	selectRunSQL = `SELECT id, agent_id, user_id, COALESCE(chat_session_id, ''), question, status,
		sql_used, result_data, execution_ms, result_rows_count, error_kind, error_message,
		attempts, pod_id, created_at, finished_at
		FROM runs`

	// Cancellation only reaches runs still in the queue; the guard makes
	// the transition atomic against a concurrent worker claim.
	cancelRunSQL = `UPDATE runs SET status = 'cancelled', finished_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'queued'`
)

// Create validates ownership, synthesises a chat session when none is
// given, and inserts the queued run record.
func (s *Service) Create(ctx context.Context, userID, agentID, question, chatSessionID string) (*models.Run, error) {
	if question == "" {
		return nil, services.NewValidationError("question", "required")
	}
	if agentID == "" {
		return nil, services.NewValidationError("agent_id", "required")
	}

	var ownerID string
	err := s.pool.QueryRow(ctx, agentOwnerSQL, agentID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if ownerID != userID {
		return nil, services.ErrNotFound
	}

	if chatSessionID != "" {
		var sessUserID, sessAgentID string
		err := s.pool.QueryRow(ctx, sessionOwnerSQL, chatSessionID).Scan(&sessUserID, &sessAgentID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, services.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load chat session: %w", err)
		}
		if sessUserID != userID || sessAgentID != agentID {
			return nil, services.ErrNotFound
		}
	} else {
		// A run never stays session-less: synthesise one with a
		// time-stamped title so the captured exchange has a home.
		chatSessionID = uuid.New().String()
		title := fmt.Sprintf("Conversa %s", time.Now().Format("02/01 15:04"))
		if _, err := s.pool.Exec(ctx, insertSessionSQL, chatSessionID, userID, agentID, title); err != nil {
			return nil, fmt.Errorf("create chat session: %w", err)
		}
	}

	runID := uuid.New().String()
	if _, err := s.pool.Exec(ctx, insertRunSQL, runID, agentID, userID, chatSessionID, question); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return s.Get(ctx, userID, runID)
}

// Get reads the current run state with no side effects. Runs owned by
// other users are indistinguishable from absent ones.
func (s *Service) Get(ctx context.Context, userID, runID string) (*models.Run, error) {
	row := s.pool.QueryRow(ctx, selectRunSQL+` WHERE id = $1 AND user_id = $2`, runID, userID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	return run, err
}

// List returns the user's runs, newest first, filtered and paginated.
func (s *Service) List(ctx context.Context, userID string, filters models.RunFilters, page, perPage int) ([]*models.Run, models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPageSize {
		perPage = MaxPageSize
	}

	where := ` WHERE user_id = $1`
	args := []any{userID}
	if filters.AgentID != "" {
		args = append(args, filters.AgentID)
		where += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if filters.ChatSessionID != "" {
		args = append(args, filters.ChatSessionID)
		where += fmt.Sprintf(" AND chat_session_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, models.Pagination{}, fmt.Errorf("count runs: %w", err)
	}

	args = append(args, perPage, (page-1)*perPage)
	query := selectRunSQL + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, models.Pagination{}, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Pagination{}, err
	}
	return out, models.NewPagination(page, perPage, total), nil
}

// Cancel moves a run to cancelled only while it is still queued.
func (s *Service) Cancel(ctx context.Context, userID, runID string) error {
	tag, err := s.pool.Exec(ctx, cancelRunSQL, runID, userID)
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "not yours/absent" from "already started".
		if _, err := s.Get(ctx, userID, runID); err != nil {
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var r models.Run
	var finishedAt *time.Time
	err := row.Scan(&r.ID, &r.AgentID, &r.UserID, &r.ChatSessionID, &r.Question, &r.Status,
		&r.SQLUsed, &r.ResultData, &r.ExecutionMS, &r.ResultRowsCount, &r.ErrorKind, &r.ErrorMessage,
		&r.Attempts, &r.PodID, &r.CreatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.FinishedAt = finishedAt
	return &r, nil
}
