package models

import "time"

// Chat session status values.
const (
	SessionActive   = "active"
	SessionArchived = "archived"
)

// ChatSession is an ordered, persistent conversation between a user and one
// agent. TotalMessages always equals the count of messages in the session
// and LastActivity never precedes CreatedAt.
type ChatSession struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	AgentID        string    `json:"agent_id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	TotalMessages  int       `json:"total_messages"`
	ContextSummary string    `json:"context_summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message belongs to exactly one chat session. SequenceOrder is dense and
// strictly increasing from 1 within the session; SQLQuery is only present
// on assistant messages.
type Message struct {
	ID            string         `json:"id"`
	ChatSessionID string         `json:"chat_session_id"`
	RunID         string         `json:"run_id,omitempty"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	SQLQuery      string         `json:"sql_query,omitempty"`
	SequenceOrder int            `json:"sequence_order"`
	CreatedAt     time.Time      `json:"created_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// MessageEmbedding stores the vector for one message. It is produced
// asynchronously; its absence is permitted and triggers lexical fallback.
type MessageEmbedding struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	Vector       []float32 `json:"-"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

// EmbeddingDim is the fixed dimensionality of message embeddings.
const EmbeddingDim = 1536
