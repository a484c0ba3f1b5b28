package models

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses. Allowed transitions:
//
//	queued ──(worker pick)──► running ──(ok)──► success
//	   │                         └─(error)───► failure
//	   └─(cancel before pick)──► cancelled
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailure   RunStatus = "failure"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailure || s == RunCancelled
}

// CanTransition reports whether the from→to edge is in the allowed set.
func CanTransition(from, to RunStatus) bool {
	switch from {
	case RunQueued:
		return to == RunRunning || to == RunCancelled
	case RunRunning:
		return to == RunSuccess || to == RunFailure
	}
	return false
}

// ErrorKind classifies why a run failed. Kinds, not language types.
type ErrorKind string

// Error kinds.
const (
	ErrKindInvalidInput ErrorKind = "invalid_input"
	ErrKindConnect      ErrorKind = "connect_error"
	ErrKindSchema       ErrorKind = "schema_error"
	ErrKindQuery        ErrorKind = "query_error"
	ErrKindModel        ErrorKind = "model_error"
	ErrKindTimeout      ErrorKind = "timeout_error"
	ErrKindInternal     ErrorKind = "internal_error"
)

// Run is the persistent record of one execution of the pipeline. The row
// itself is the job: queued runs are claimed by workers, and the terminal
// write is idempotent on the run id.
type Run struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	UserID          string     `json:"user_id"`
	ChatSessionID   string     `json:"chat_session_id,omitempty"`
	Question        string     `json:"question"`
	Status          RunStatus  `json:"status"`
	SQLUsed         string     `json:"sql_used,omitempty"`
	ResultData      string     `json:"result_data,omitempty"`
	ExecutionMS     int64      `json:"execution_ms,omitempty"`
	ResultRowsCount int        `json:"result_rows_count,omitempty"`
	ErrorKind       ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Attempts        int        `json:"-"`
	PodID           string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunFilters contains filtering options for listing runs.
type RunFilters struct {
	AgentID       string
	ChatSessionID string
	Status        RunStatus
}

// Pagination is the shared envelope metadata for paginated responses.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPagination derives the envelope metadata from a total count.
func NewPagination(page, perPage, total int) Pagination {
	totalPages := 0
	if perPage > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	return Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
