package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/raki39/frontgraph/pkg/models"
)

// Dialect-specific metadata statements. These are the ONLY statements ever
// used to enumerate schema: ClickHouse reads system.tables/system.columns,
// Postgres reads information_schema scoped to the resolved schema, sqlite
// reads its embedded catalog. Kept as package constants so the regression
// tests can assert no ClickHouse statement touches information_schema.
const (
	sqliteListTables = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	sqliteColumns    = `SELECT name, type FROM pragma_table_info(?)`

	postgresListTables = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`
	postgresColumns    = `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`

	clickhouseListTables = `SELECT name FROM system.tables WHERE database = currentDatabase() AND database != 'system' ORDER BY name`
	clickhouseColumns    = `SELECT name, type FROM system.columns WHERE database = currentDatabase() AND table = ? ORDER BY position`
)

// Dialect returns the SQL variant of the handle, one of
// sqlite|postgres|clickhouse.
func (h *Handle) Dialect() string { return string(h.kind) }

// Quote wraps an identifier with the dialect-appropriate quote character:
// backticks for ClickHouse, double quotes otherwise.
func (h *Handle) Quote(ident string) string {
	if h.kind == models.KindClickHouse {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ListTables enumerates user tables through the dialect's own catalog.
func (h *Handle) ListTables(ctx context.Context) ([]string, error) {
	var stmt string
	switch h.kind {
	case models.KindSQLite:
		stmt = sqliteListTables
	case models.KindPostgres:
		stmt = postgresListTables
	case models.KindClickHouse:
		stmt = clickhouseListTables
	default:
		return nil, fmt.Errorf("unsupported dialect %q", h.kind)
	}

	rows, err := h.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &QueryError{Err: err}
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns lists name and type for one table, again through dialect-typed
// statements only.
func (h *Handle) Columns(ctx context.Context, table string) ([]Column, error) {
	var stmt string
	switch h.kind {
	case models.KindSQLite:
		stmt = sqliteColumns
	case models.KindPostgres:
		stmt = postgresColumns
	case models.KindClickHouse:
		stmt = clickhouseColumns
	default:
		return nil, fmt.Errorf("unsupported dialect %q", h.kind)
	}

	rows, err := h.db.QueryContext(ctx, stmt, table)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, &QueryError{Err: err}
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Sample returns up to n rows of the table for prompt context.
func (h *Handle) Sample(ctx context.Context, table string, n int) (*Rows, error) {
	if n <= 0 {
		n = 10
	}
	stmt := fmt.Sprintf("SELECT * FROM %s LIMIT %d", h.Quote(table), n)
	return h.Execute(ctx, stmt, n)
}

// Execute runs sqlText and returns the first limitRows rows fully
// materialised. It does not stream. A non-positive limit means no cap.
func (h *Handle) Execute(ctx context.Context, sqlText string, limitRows int) (*Rows, error) {
	rows, err := h.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Err: err}
	}

	out := &Rows{Columns: cols}
	for rows.Next() {
		if limitRows > 0 && len(out.Rows) >= limitRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{Err: err}
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return out, nil
}
