// Package server exposes the confirmation and workflow services over
// HTTP. Handlers stay thin; all semantics live in the services.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aide/internal/config"
	"aide/internal/confirmation"
	"aide/internal/logging"
	"aide/internal/workflow"
)

// Server wraps the gin engine and its http.Server.
type Server struct {
	engine        *gin.Engine
	httpServer    *http.Server
	confirmations *confirmation.Service
	workflows     *workflow.Executor
	logger        logging.Logger
}

// New builds the HTTP server and its routes.
func New(cfg config.ServerConfig, confirmations *confirmation.Service, workflows *workflow.Executor, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if cfg.EnableCORS {
		engine.Use(cors.Default())
	}

	s := &Server{
		engine:        engine,
		confirmations: confirmations,
		workflows:     workflows,
		logger:        logging.OrNop(logger),
		httpServer: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      engine,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.POST("/confirmations", s.handleCreateConfirmation)
	api.GET("/confirmations/stats", s.handleConfirmationStats)
	api.GET("/confirmations/:id", s.handleGetConfirmation)
	api.POST("/confirmations/:id/respond", s.handleRespondConfirmation)
	api.POST("/confirmations/:id/execute", s.handleExecuteConfirmation)
	api.GET("/sessions/:id/confirmations/pending", s.handlePendingConfirmations)
	api.POST("/workflows", s.handleExecuteWorkflow)
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
