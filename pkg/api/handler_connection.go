package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) testConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.connections.Probe(c.Request.Context(), req.Kind, req.Payload))
}

func (s *Server) createConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, err := s.connections.Create(c.Request.Context(), currentUserID(c), req.Kind, req.Payload)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, redactConnection(conn))
}

func (s *Server) listConnections(c *gin.Context) {
	conns, err := s.connections.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	out := make([]any, 0, len(conns))
	for _, conn := range conns {
		out = append(out, redactConnection(conn))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getConnection(c *gin.Context) {
	conn, err := s.connections.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, redactConnection(conn))
}

func (s *Server) updateConnection(c *gin.Context) {
	var req connectionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, err := s.connections.Update(c.Request.Context(), currentUserID(c), c.Param("id"), req.Payload)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, redactConnection(conn))
}

func (s *Server) deleteConnection(c *gin.Context) {
	if err := s.connections.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
