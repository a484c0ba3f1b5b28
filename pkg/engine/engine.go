// Package engine is the per-connection database abstraction. It builds a
// DSN per connection kind, pools opened handles, and exposes typed schema
// and query operations that shield the pipeline from dialect differences.
//
// Metadata is never fetched through driver-level catalog reflection: each
// dialect issues its own statement (sqlite_master, information_schema for
// Postgres only, system.* for ClickHouse). ClickHouse has no
// information_schema, and reflecting through it produced "Unknown table
// expression identifier 'COLUMNS'" failures in production.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // database/sql driver: clickhouse
	_ "github.com/jackc/pgx/v5/stdlib"         // database/sql driver: pgx
	_ "modernc.org/sqlite"                     // database/sql driver: sqlite

	"github.com/raki39/frontgraph/pkg/masking"
	"github.com/raki39/frontgraph/pkg/models"
)

// Connection and pool defaults.
const (
	ConnectTimeout  = 10 * time.Second
	poolMaxOpen     = 5
	poolMaxIdle     = 2
	poolMaxLifetime = time.Hour
	poolMaxIdleTime = 30 * time.Second
)

// ConnectError reports an engine open or probe failure. Its message is
// always masked; the DSN never leaks credentials.
type ConnectError struct {
	Kind models.ConnectionKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Kind, masking.Error(e.Err))
}

func (e *ConnectError) Unwrap() error { return e.Err }

// QueryError reports a failed SQL execution (syntax, permission, missing
// relation).
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return "query failed: " + masking.Error(e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }

// Rows is a fully materialised, bounded result set. Execution never
// streams; the row cap is applied at fetch time.
type Rows struct {
	Columns []string
	Rows    [][]any
}

// Column describes one column of a table.
type Column struct {
	Name string
	Type string
}

// Handle is an opaque, poolable connection resource to one target
// database.
type Handle struct {
	db       *sql.DB
	kind     models.ConnectionKind
	database string
}

// Manager opens and pools engine handles. Open is idempotent per (kind,
// normalised DSN); handles are discarded through Invalidate when the
// owning connection mutates.
type Manager struct {
	mu         sync.Mutex
	handles    map[string]*Handle
	datasetDir string
}

// NewManager creates a manager resolving sqlite dataset ids under
// datasetDir.
func NewManager(datasetDir string) *Manager {
	return &Manager{
		handles:    make(map[string]*Handle),
		datasetDir: datasetDir,
	}
}

// Open returns a pooled handle for the connection, dialing and probing it
// on first use. Handshake and auth failures surface as ConnectError within
// the bounded connect timeout.
func (m *Manager) Open(ctx context.Context, kind models.ConnectionKind, payload models.ConnectionPayload) (*Handle, error) {
	driver, dsn, err := m.buildDSN(kind, payload)
	if err != nil {
		return nil, &ConnectError{Kind: kind, Err: err}
	}

	key := string(kind) + "|" + dsn

	m.mu.Lock()
	if h, ok := m.handles[key]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &ConnectError{Kind: kind, Err: err}
	}
	db.SetMaxOpenConns(poolMaxOpen)
	db.SetMaxIdleConns(poolMaxIdle)
	db.SetConnMaxLifetime(poolMaxLifetime)
	db.SetConnMaxIdleTime(poolMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectError{Kind: kind, Err: err}
	}

	h := &Handle{db: db, kind: kind, database: payload.Database}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent Open may have won the race; keep the first handle.
	if existing, ok := m.handles[key]; ok {
		_ = db.Close()
		return existing, nil
	}
	m.handles[key] = h
	slog.Info("Engine opened", "kind", kind, "dsn", masking.DSN(dsn))
	return h, nil
}

// Probe opens and immediately validates a connection without keeping it in
// the pool. Used by the /connections/test endpoint.
func (m *Manager) Probe(ctx context.Context, kind models.ConnectionKind, payload models.ConnectionPayload) error {
	driver, dsn, err := m.buildDSN(kind, payload)
	if err != nil {
		return &ConnectError{Kind: kind, Err: err}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return &ConnectError{Kind: kind, Err: err}
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return &ConnectError{Kind: kind, Err: err}
	}
	return nil
}

// Invalidate closes and forgets every pooled handle for the given kind and
// payload. Called when a connection record mutates.
func (m *Manager) Invalidate(kind models.ConnectionKind, payload models.ConnectionPayload) {
	_, dsn, err := m.buildDSN(kind, payload)
	if err != nil {
		return
	}
	key := string(kind) + "|" + dsn

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handles[key]; ok {
		_ = h.db.Close()
		delete(m.handles, key)
	}
}

// Close releases every pooled handle.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, h := range m.handles {
		_ = h.db.Close()
		delete(m.handles, key)
	}
}

// buildDSN normalises the payload into a (driver, dsn) pair.
func (m *Manager) buildDSN(kind models.ConnectionKind, p models.ConnectionPayload) (string, string, error) {
	switch kind {
	case models.KindSQLite:
		if p.DatasetID == "" {
			return "", "", fmt.Errorf("sqlite connection requires dataset_id")
		}
		path := filepath.Join(m.datasetDir, p.DatasetID+".db")
		return "sqlite", path, nil

	case models.KindPostgres:
		if p.Host == "" || p.Database == "" {
			return "", "", fmt.Errorf("postgres connection requires host and database")
		}
		port := p.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(p.Username, p.Password),
			Host:   fmt.Sprintf("%s:%d", p.Host, port),
			Path:   "/" + p.Database,
		}
		return "pgx", u.String(), nil

	case models.KindClickHouse:
		if p.Host == "" || p.Database == "" {
			return "", "", fmt.Errorf("clickhouse connection requires host and database")
		}
		port := p.Port
		if port == 0 {
			port = 8123
		}
		// secure selects HTTPS; the port is always taken as given, never
		// switched implicitly.
		scheme := "http"
		if p.Secure {
			scheme = "https"
		}
		u := url.URL{
			Scheme: scheme,
			User:   url.UserPassword(p.Username, p.Password),
			Host:   fmt.Sprintf("%s:%d", p.Host, port),
			Path:   "/" + p.Database,
		}
		return "clickhouse", u.String(), nil
	}
	return "", "", fmt.Errorf("unsupported connection kind %q", kind)
}
