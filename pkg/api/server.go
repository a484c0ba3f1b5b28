// Package api is the HTTP façade: auth, CRUD for connections, agents and
// chat sessions, run submission and polling. Routing, validation and JWT
// live here; everything else is delegated to the service layer.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raki39/frontgraph/pkg/database"
	"github.com/raki39/frontgraph/pkg/queue"
	"github.com/raki39/frontgraph/pkg/runs"
	"github.com/raki39/frontgraph/pkg/services"
	"github.com/raki39/frontgraph/pkg/validation"
)

// Server wires the handlers to the services.
type Server struct {
	db          *database.Client
	users       *services.UserService
	connections *services.ConnectionService
	agents      *services.AgentService
	chats       *services.ChatService
	runs        *runs.Service
	harness     *validation.Harness
	workerPool  *queue.WorkerPool
	issuer      *TokenIssuer
}

// NewServer creates the API server. harness and workerPool may be nil
// (scoring disabled / API-only replica).
func NewServer(db *database.Client, users *services.UserService, connections *services.ConnectionService,
	agents *services.AgentService, chats *services.ChatService, runSvc *runs.Service,
	harness *validation.Harness, workerPool *queue.WorkerPool, issuer *TokenIssuer) *Server {
	return &Server{
		db:          db,
		users:       users,
		connections: connections,
		agents:      agents,
		chats:       chats,
		runs:        runSvc,
		harness:     harness,
		workerPool:  workerPool,
		issuer:      issuer,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	auth := r.Group("/auth")
	{
		auth.POST("/register", s.register)
		auth.POST("/login", s.login)
		auth.GET("/me", authRequired(s.issuer), s.me)
	}

	protected := r.Group("/", authRequired(s.issuer))
	{
		protected.POST("/connections/test", s.testConnection)
		protected.POST("/connections/", s.createConnection)
		protected.GET("/connections/", s.listConnections)
		protected.GET("/connections/:id", s.getConnection)
		protected.PATCH("/connections/:id", s.updateConnection)
		protected.DELETE("/connections/:id", s.deleteConnection)

		protected.POST("/agents/", s.createAgent)
		protected.GET("/agents/", s.listAgents)
		protected.GET("/agents/:id", s.getAgent)
		protected.PATCH("/agents/:id", s.updateAgent)
		protected.DELETE("/agents/:id", s.deleteAgent)
		protected.POST("/agents/:id/run", s.createRun)
		protected.GET("/agents/:id/chat-sessions", s.listChatSessions)

		protected.GET("/runs/", s.listRuns)
		protected.GET("/runs/:id", s.getRun)
		protected.POST("/runs/:id/cancel", s.cancelRun)
		protected.POST("/runs/score", s.scoreRuns)

		protected.POST("/chat-sessions/", s.createChatSession)
		protected.GET("/chat-sessions/:id", s.getChatSession)
		protected.GET("/chat-sessions/:id/messages", s.listChatMessages)
		protected.PUT("/chat-sessions/:id", s.updateChatSession)
		protected.DELETE("/chat-sessions/:id", s.deleteChatSession)
	}

	return r
}

// health reports database and worker pool state.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := gin.H{"status": "healthy"}
	code := http.StatusOK

	if err := s.db.Health(ctx); err != nil {
		status["status"] = "unhealthy"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.workerPool != nil {
		status["workers"] = s.workerPool.Health(ctx)
	}
	c.JSON(code, status)
}
