package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) createChatSession(c *gin.Context) {
	var req chatSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.chats.Create(c.Request.Context(), currentUserID(c), req.AgentID, req.Title)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getChatSession(c *gin.Context) {
	sess, err := s.chats.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) listChatSessions(c *gin.Context) {
	page, perPage := pageParams(c)
	list, pagination, err := s.chats.ListByAgent(c.Request.Context(), currentUserID(c), c.Param("id"), page, perPage)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaginated(list, pagination))
}

func (s *Server) listChatMessages(c *gin.Context) {
	page, perPage := pageParams(c)
	list, pagination, err := s.chats.Messages(c.Request.Context(), currentUserID(c), c.Param("id"), page, perPage)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPaginated(list, pagination))
}

func (s *Server) updateChatSession(c *gin.Context) {
	var req chatSessionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.chats.Update(c.Request.Context(), currentUserID(c), c.Param("id"), req.Title, req.Status)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteChatSession(c *gin.Context) {
	if err := s.chats.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
