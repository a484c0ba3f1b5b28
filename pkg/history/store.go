// Package history persists chat messages and retrieves semantically
// relevant ones to enrich later prompts. Retrieval unions three sources —
// the recent window of the current session, vector-similar past user
// messages, and the last complete interaction — then deduplicates and
// ranks. Every entry point is total: vector failures downgrade to lexical
// search, lexical failures return an empty list with a warning.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/raki39/frontgraph/pkg/config"
	"github.com/raki39/frontgraph/pkg/models"
)

// Embedder produces the query vector for semantic retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingQueue receives message ids whose vectors should be generated in
// the background.
type EmbeddingQueue interface {
	Enqueue(messageID string)
}

// Scored is a retrieved message with its provenance and relevance score.
// Recent-session messages score 1.0, the guaranteed last interaction
// slightly above to keep it at the top, semantic hits score 1 − distance,
// lexical hits at most 0.5.
type Scored struct {
	models.Message
	Source string
	Score  float64
}

// Retrieval sources.
const (
	SourceRecent          = "recent_session"
	SourceSemantic        = "semantic_search"
	SourceLexical         = "text_search"
	SourceLastInteraction = "last_interaction"
)

// Store is the history store over the metadata database.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	queue    EmbeddingQueue
	cfg      config.HistoryConfig

	// Query-text embeddings are cached with a TTL so follow-up questions
	// in the same session do not re-embed identical text.
	embedMu    sync.Mutex
	embedCache map[string]cachedVector
}

type cachedVector struct {
	vec      []float32
	cachedAt time.Time
}

// NewStore creates a history store. queue may be nil (embedding generation
// disabled); embedder may be nil (retrieval is lexical-only).
func NewStore(pool *pgxpool.Pool, embedder Embedder, queue EmbeddingQueue, cfg config.HistoryConfig) *Store {
	return &Store{
		pool:       pool,
		embedder:   embedder,
		queue:      queue,
		cfg:        cfg,
		embedCache: make(map[string]cachedVector),
	}
}

// embedQuery returns the vector for queryText, serving repeats from the
// TTL cache.
func (s *Store) embedQuery(ctx context.Context, queryText string) ([]float32, error) {
	ttl := s.cfg.EmbeddingCacheTTL

	s.embedMu.Lock()
	if entry, ok := s.embedCache[queryText]; ok && (ttl <= 0 || time.Since(entry.cachedAt) <= ttl) {
		s.embedMu.Unlock()
		return entry.vec, nil
	}
	s.embedMu.Unlock()

	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	s.embedMu.Lock()
	if len(s.embedCache) >= 512 {
		// Cheap reset keeps the cache bounded without an eviction list.
		s.embedCache = make(map[string]cachedVector)
	}
	s.embedCache[queryText] = cachedVector{vec: vec, cachedAt: time.Now()}
	s.embedMu.Unlock()
	return vec, nil
}

// Enabled reports whether history capture/retrieval is switched on.
func (s *Store) Enabled() bool { return s.cfg.Enabled }

// Capture SQL. The session row lock serialises concurrent captures on the
// same session so sequence_order stays dense: the transaction reads the
// current max under the lock and inserts max+1, max+2.
const (
	lockSessionSQL = `SELECT total_messages FROM chat_sessions WHERE id = $1 FOR UPDATE`

	maxSequenceSQL = `SELECT COALESCE(MAX(sequence_order), 0) FROM messages WHERE chat_session_id = $1`

	insertMessageSQL = `INSERT INTO messages (id, chat_session_id, run_id, role, content, sql_query, sequence_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`

	bumpSessionSQL = `UPDATE chat_sessions SET total_messages = total_messages + 2, last_activity = NOW() WHERE id = $1`
)

// Capture transactionally writes the user and assistant messages of one
// exchange, assigning two consecutive sequence_order values, bumping the
// session counters, and enqueueing embedding jobs for both messages after
// commit. Returns the two message ids.
func (s *Store) Capture(ctx context.Context, sessionID, runID, userText, assistantText, sqlQuery string) (string, string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", "", fmt.Errorf("begin capture: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var totalMessages int
	if err := tx.QueryRow(ctx, lockSessionSQL, sessionID).Scan(&totalMessages); err != nil {
		return "", "", fmt.Errorf("lock session: %w", err)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx, maxSequenceSQL, sessionID).Scan(&maxSeq); err != nil {
		return "", "", fmt.Errorf("read max sequence: %w", err)
	}

	userMsgID := uuid.New().String()
	assistantMsgID := uuid.New().String()

	var runRef any
	if runID != "" {
		runRef = runID
	}

	if _, err := tx.Exec(ctx, insertMessageSQL,
		userMsgID, sessionID, runRef, models.RoleUser, userText, "", maxSeq+1); err != nil {
		return "", "", fmt.Errorf("insert user message: %w", err)
	}
	if _, err := tx.Exec(ctx, insertMessageSQL,
		assistantMsgID, sessionID, runRef, models.RoleAssistant, assistantText, sqlQuery, maxSeq+2); err != nil {
		return "", "", fmt.Errorf("insert assistant message: %w", err)
	}

	if _, err := tx.Exec(ctx, bumpSessionSQL, sessionID); err != nil {
		return "", "", fmt.Errorf("bump session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", fmt.Errorf("commit capture: %w", err)
	}

	if s.queue != nil {
		s.queue.Enqueue(userMsgID)
		s.queue.Enqueue(assistantMsgID)
	}
	return userMsgID, assistantMsgID, nil
}

// Retrieval SQL.
const (
	recentMessagesSQL = `SELECT id, role, content, sql_query, created_at, sequence_order
		FROM messages
		WHERE chat_session_id = $1
		ORDER BY sequence_order DESC
		LIMIT $2`

	// L2 distance; similarity = 1 − distance, so the threshold translates
	// to distance < 1 − threshold.
	similarMessagesSQL = `SELECT m.id, m.role, m.content, m.sql_query, m.created_at, m.sequence_order,
		       (me.embedding <-> $1) AS distance
		FROM messages m
		JOIN message_embeddings me ON me.message_id = m.id
		JOIN chat_sessions cs ON cs.id = m.chat_session_id
		WHERE cs.user_id = $2
		  AND cs.agent_id = $3
		  AND m.role = 'user'
		  AND (me.embedding <-> $1) < $4
		ORDER BY distance ASC
		LIMIT $5`

	lexicalScanSQL = `SELECT m.id, m.role, m.content, m.sql_query, m.created_at, m.sequence_order
		FROM messages m
		JOIN chat_sessions cs ON cs.id = m.chat_session_id
		WHERE cs.user_id = $1
		  AND cs.agent_id = $2
		  AND m.role = 'user'
		ORDER BY m.created_at DESC
		LIMIT $3`

	lastUserMessageSQL = `SELECT id, role, content, sql_query, created_at, sequence_order
		FROM messages
		WHERE chat_session_id = $1 AND role = 'user'
		ORDER BY sequence_order DESC
		LIMIT 1`

	followingAssistantSQL = `SELECT id, role, content, sql_query, created_at, sequence_order
		FROM messages
		WHERE chat_session_id = $1 AND role = 'assistant' AND sequence_order = $2
		LIMIT 1`
)

// Relevant returns the ranked, deduplicated history block inputs for a new
// question: up to k semantically similar past user messages of the
// (user, agent) pair, the recent window of the current session, and the
// last complete interaction. Never returns an error: every failure
// downgrades and is logged.
func (s *Store) Relevant(ctx context.Context, userID, agentID, sessionID, queryText string, k int) []Scored {
	if !s.cfg.Enabled {
		return nil
	}
	if k <= 0 {
		k = s.cfg.SimilarLimit
	}

	var collected []Scored

	if sessionID != "" {
		collected = append(collected, s.recentWindow(ctx, sessionID)...)
	}

	similar, err := s.similar(ctx, userID, agentID, queryText, k)
	if err != nil {
		slog.Warn("semantic search failed, falling back to lexical", "error", err)
		collected = append(collected, s.lexical(ctx, userID, agentID, queryText)...)
	} else {
		collected = append(collected, similar...)
	}

	if sessionID != "" {
		if u, a, ok := s.lastInteraction(ctx, sessionID); ok {
			u.Source, u.Score = SourceLastInteraction, 1.1
			a.Source, a.Score = SourceLastInteraction, 1.05
			collected = append(collected, u, a)
		}
	}

	return dedupeAndRank(collected, s.cfg.MaxMessages)
}

// Recent returns the last n messages of a session in ascending
// sequence_order.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, recentMessagesSQL, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	// Query returns newest first; present oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) recentWindow(ctx context.Context, sessionID string) []Scored {
	rows, err := s.pool.Query(ctx, recentMessagesSQL, sessionID, s.cfg.RecentWindow)
	if err != nil {
		slog.Warn("recent window fetch failed", "session_id", sessionID, "error", err)
		return nil
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		slog.Warn("recent window scan failed", "session_id", sessionID, "error", err)
		return nil
	}
	scored := make([]Scored, 0, len(msgs))
	for _, m := range msgs {
		scored = append(scored, Scored{Message: m, Source: SourceRecent, Score: 1.0})
	}
	return scored
}

func (s *Store) similar(ctx context.Context, userID, agentID, queryText string, k int) ([]Scored, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	vec, err := s.embedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	maxDistance := 1.0 - s.cfg.SimilarityThreshold
	rows, err := s.pool.Query(ctx, similarMessagesSQL,
		pgvector.NewVector(vec), userID, agentID, maxDistance, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var scored []Scored
	for rows.Next() {
		var m models.Message
		var sqlQuery string
		var distance float64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &sqlQuery, &m.CreatedAt, &m.SequenceOrder, &distance); err != nil {
			return nil, fmt.Errorf("scan similar message: %w", err)
		}
		m.SQLQuery = sqlQuery
		scored = append(scored, Scored{Message: m, Source: SourceSemantic, Score: 1.0 - distance})
	}
	return scored, rows.Err()
}

// lexical is the fallback when no vectors are indexed yet or the embedder
// is unreachable: token-overlap ranking over the most recent messages of
// the (user, agent) pair. Failures return an empty list.
func (s *Store) lexical(ctx context.Context, userID, agentID, queryText string) []Scored {
	rows, err := s.pool.Query(ctx, lexicalScanSQL, userID, agentID, s.cfg.LexicalScanLimit)
	if err != nil {
		slog.Warn("lexical search failed", "error", err)
		return nil
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		slog.Warn("lexical scan failed", "error", err)
		return nil
	}
	return rankLexical(msgs, queryText, s.cfg.RecentWindow)
}

// lastInteraction returns the session's last user message and the
// assistant message that immediately follows it.
func (s *Store) lastInteraction(ctx context.Context, sessionID string) (Scored, Scored, bool) {
	var u models.Message
	err := s.pool.QueryRow(ctx, lastUserMessageSQL, sessionID).
		Scan(&u.ID, &u.Role, &u.Content, &u.SQLQuery, &u.CreatedAt, &u.SequenceOrder)
	if err != nil {
		return Scored{}, Scored{}, false
	}

	var a models.Message
	err = s.pool.QueryRow(ctx, followingAssistantSQL, sessionID, u.SequenceOrder+1).
		Scan(&a.ID, &a.Role, &a.Content, &a.SQLQuery, &a.CreatedAt, &a.SequenceOrder)
	if err != nil {
		return Scored{}, Scored{}, false
	}
	return Scored{Message: u}, Scored{Message: a}, true
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.SQLQuery, &m.CreatedAt, &m.SequenceOrder); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
