package models

import "time"

// Agent is a user-owned configuration binding a connection, an LLM model
// and behaviour flags. single_table_mode requires SelectedTable to be set.
type Agent struct {
	ID                string    `json:"id"`
	OwnerUserID       string    `json:"owner_user_id"`
	Name              string    `json:"name"`
	ConnectionID      string    `json:"connection_id"`
	ModelID           string    `json:"model_id"`
	TopK              int       `json:"top_k"`
	IncludedTables    string    `json:"included_tables"`
	Advanced          bool      `json:"advanced"`
	ProcessingEnabled bool      `json:"processing_enabled"`
	RefinementEnabled bool      `json:"refinement_enabled"`
	SingleTableMode   bool      `json:"single_table_mode"`
	SelectedTable     string    `json:"selected_table,omitempty"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
}
