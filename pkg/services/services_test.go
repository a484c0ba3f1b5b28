package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raki39/frontgraph/pkg/models"
)

func TestValidationErrorWrapping(t *testing.T) {
	err := NewValidationError("email", "must be a valid address")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "email")
	assert.False(t, IsValidationError(ErrNotFound))
}

func TestRegisterRejectsBadInputBeforeTouchingTheDatabase(t *testing.T) {
	s := NewUserService(nil)

	_, err := s.Register(context.Background(), "not-an-email", "longenough", "n")
	assert.True(t, IsValidationError(err))

	_, err = s.Register(context.Background(), "u@x.com", "short", "n")
	assert.True(t, IsValidationError(err))
}

func TestAgentParamsValidation(t *testing.T) {
	base := AgentParams{Name: "a", ConnectionID: "c", ModelID: "gpt-4o-mini", TopK: 10}

	p := base
	p.Name = ""
	assert.True(t, IsValidationError(p.validate()))

	p = base
	p.TopK = 0
	assert.True(t, IsValidationError(p.validate()))

	p = base
	p.SingleTableMode = true
	assert.True(t, IsValidationError(p.validate()), "single_table_mode requires selected_table")

	p = base
	p.SingleTableMode = true
	p.SelectedTable = "sales"
	assert.NoError(t, p.validate())

	p = base
	p.IncludedTables = ""
	require.NoError(t, p.validate())
	assert.Equal(t, "*", p.IncludedTables, "empty table scope defaults to everything")
}

func TestConnectionPayloadValidation(t *testing.T) {
	assert.True(t, IsValidationError(validatePayload(models.KindSQLite, models.ConnectionPayload{})))
	assert.NoError(t, validatePayload(models.KindSQLite, models.ConnectionPayload{DatasetID: "ds"}))

	assert.True(t, IsValidationError(validatePayload(models.KindPostgres, models.ConnectionPayload{Host: "h"})))
	assert.NoError(t, validatePayload(models.KindPostgres, models.ConnectionPayload{Host: "h", Database: "d"}))
	assert.NoError(t, validatePayload(models.KindClickHouse, models.ConnectionPayload{Host: "h", Database: "d", Secure: true}))
}

// Ownership is enforced in the statements themselves: every read or
// mutation of a user-owned entity carries the owner in its WHERE clause,
// so a foreign row is indistinguishable from an absent one.
func TestOwnershipScopedStatements(t *testing.T) {
	for name, stmt := range map[string]string{
		"connection update": updateConnectionSQL,
		"connection delete": deleteConnectionSQL,
		"agent update":      updateAgentSQL,
		"agent delete":      deleteAgentSQL,
		"session update":    updateChatSessionSQL,
		"session delete":    deleteChatSessionSQL,
	} {
		assert.Contains(t, stmt, "$2", "%s must be owner-scoped", name)
	}
	assert.Contains(t, updateConnectionSQL, "owner_user_id")
	assert.Contains(t, updateAgentSQL, "owner_user_id")
	assert.Contains(t, updateChatSessionSQL, "user_id")
}

func TestMutationsBumpVersions(t *testing.T) {
	assert.Contains(t, updateConnectionSQL, "version = version + 1")
	assert.Contains(t, updateAgentSQL, "version = version + 1")
}

func TestMessagesPageNewestFirst(t *testing.T) {
	assert.Contains(t, selectMessagesSQL, "ORDER BY sequence_order DESC")
}
