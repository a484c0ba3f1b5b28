package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raki39/frontgraph/pkg/models"
)

func (s *Server) createRun(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runs.Create(c.Request.Context(), currentUserID(c), c.Param("id"), req.Question, req.ChatSessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.runs.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listRuns(c *gin.Context) {
	page, perPage := pageParams(c)
	filters := models.RunFilters{
		AgentID:       c.Query("agent_id"),
		ChatSessionID: c.Query("chat_session_id"),
		Status:        models.RunStatus(c.Query("status")),
	}
	list, pagination, err := s.runs.List(c.Request.Context(), currentUserID(c), filters, page, perPage)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaginated(list, pagination))
}

func (s *Server) cancelRun(c *gin.Context) {
	if err := s.runs.Cancel(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) scoreRuns(c *gin.Context) {
	if s.harness == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no judge model configured"})
		return
	}
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.harness.ScoreRuns(c.Request.Context(), currentUserID(c), req.RunIDs))
}
