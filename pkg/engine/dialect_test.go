package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raki39/frontgraph/pkg/models"
)

// Regression guard for the ClickHouse metadata bug: ClickHouse lacks
// information_schema, and any statement referencing it fails with
// "Unknown table expression identifier". Every ClickHouse metadata
// statement must read system.* only.
func TestClickHouseStatementsNeverTouchInformationSchema(t *testing.T) {
	forbidden := []string{
		"information_schema", "INFORMATION_SCHEMA",
		"COLUMNS", "TABLES", "VIEWS", "SCHEMATA",
		"KEY_COLUMN_USAGE", "REFERENTIAL_CONSTRAINTS", "STATISTICS",
	}
	for _, stmt := range []string{clickhouseListTables, clickhouseColumns} {
		for _, tok := range forbidden {
			assert.NotContains(t, stmt, tok, "clickhouse statement must not reference %s", tok)
		}
		assert.Contains(t, stmt, "system.", "clickhouse metadata comes from system.* only")
	}
}

func TestClickHouseListTablesExcludesSystemDatabase(t *testing.T) {
	assert.Contains(t, clickhouseListTables, "database != 'system'")
}

func TestPostgresStatementsScopedToResolvedSchema(t *testing.T) {
	assert.Contains(t, postgresListTables, "information_schema.tables")
	assert.Contains(t, postgresListTables, "current_schema()")
	assert.Contains(t, postgresColumns, "current_schema()")
}

func TestSQLiteUsesEmbeddedCatalog(t *testing.T) {
	assert.Contains(t, sqliteListTables, "sqlite_master")
	assert.Contains(t, sqliteListTables, "type = 'table'")
}

func TestQuotePerDialect(t *testing.T) {
	ch := &Handle{kind: models.KindClickHouse}
	pg := &Handle{kind: models.KindPostgres}
	lite := &Handle{kind: models.KindSQLite}

	assert.Equal(t, "`sales`", ch.Quote("sales"))
	assert.Equal(t, `"sales"`, pg.Quote("sales"))
	assert.Equal(t, `"sales"`, lite.Quote("sales"))

	// Embedded quote characters are escaped, not truncated.
	assert.Equal(t, "`a``b`", ch.Quote("a`b"))
	assert.Equal(t, `"a""b"`, pg.Quote(`a"b`))
}

func TestBuildDSNPostgresDefaults(t *testing.T) {
	m := NewManager("/tmp/datasets")
	driver, dsn, err := m.buildDSN(models.KindPostgres, models.ConnectionPayload{
		Host: "pg", Database: "d", Username: "u", Password: "p",
	})
	require.NoError(t, err)
	assert.Equal(t, "pgx", driver)
	assert.Equal(t, "postgres://u:p@pg:5432/d", dsn)
}

func TestBuildDSNClickHouseSecureSelectsHTTPSWithoutPortSwitch(t *testing.T) {
	m := NewManager("/tmp/datasets")

	_, dsn, err := m.buildDSN(models.KindClickHouse, models.ConnectionPayload{
		Host: "ch", Port: 8443, Database: "d", Username: "u", Password: "p", Secure: true,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "https://"), "secure=true means HTTPS")
	assert.Contains(t, dsn, ":8443")

	// secure=false on 8443: the scheme stays http and the port is honoured;
	// no implicit protocol switch.
	_, dsn, err = m.buildDSN(models.KindClickHouse, models.ConnectionPayload{
		Host: "ch", Port: 8443, Database: "d", Secure: false,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "http://"))
	assert.Contains(t, dsn, ":8443")
}

func TestBuildDSNClickHouseDefaultPort(t *testing.T) {
	m := NewManager("/tmp/datasets")
	_, dsn, err := m.buildDSN(models.KindClickHouse, models.ConnectionPayload{
		Host: "ch", Database: "d",
	})
	require.NoError(t, err)
	assert.Contains(t, dsn, ":8123")
}

func TestBuildDSNSQLiteResolvesUnderDatasetDir(t *testing.T) {
	m := NewManager("/srv/data")
	driver, dsn, err := m.buildDSN(models.KindSQLite, models.ConnectionPayload{DatasetID: "ds-42"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/srv/data/ds-42.db", dsn)
}

func TestBuildDSNRejectsIncompletePayloads(t *testing.T) {
	m := NewManager("/tmp")
	_, _, err := m.buildDSN(models.KindSQLite, models.ConnectionPayload{})
	assert.Error(t, err)
	_, _, err = m.buildDSN(models.KindPostgres, models.ConnectionPayload{Host: "pg"})
	assert.Error(t, err)
	_, _, err = m.buildDSN(models.ConnectionKind("oracle"), models.ConnectionPayload{})
	assert.Error(t, err)
}
