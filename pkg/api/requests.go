package api

import "github.com/raki39/frontgraph/pkg/models"

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type connectionRequest struct {
	Kind    models.ConnectionKind    `json:"kind" binding:"required"`
	Payload models.ConnectionPayload `json:"payload" binding:"required"`
}

type connectionUpdateRequest struct {
	Payload models.ConnectionPayload `json:"payload" binding:"required"`
}

type runRequest struct {
	Question      string `json:"question" binding:"required"`
	ChatSessionID string `json:"chat_session_id"`
}

type chatSessionRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Title   string `json:"title" binding:"required"`
}

type chatSessionUpdateRequest struct {
	Title  string `json:"title" binding:"required"`
	Status string `json:"status" binding:"required"`
}

type scoreRequest struct {
	RunIDs []string `json:"run_ids" binding:"required"`
}
