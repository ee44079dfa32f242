package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aide/internal/apperrors"
	"aide/internal/confirmation"
	"aide/internal/ports"
	"aide/internal/workflow"
)

type createConfirmationRequest struct {
	SessionID      string         `json:"session_id" binding:"required"`
	UserID         string         `json:"user_id"`
	ToolName       string         `json:"tool_name" binding:"required"`
	Parameters     map[string]any `json:"parameters"`
	ExpiresIn      string         `json:"expires_in"`
	ChannelContext map[string]any `json:"channel_context"`
}

func (s *Server) handleCreateConfirmation(c *gin.Context) {
	var req createConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, &apperrors.ValidationError{Field: "request body", Reason: err.Error()})
		return
	}

	var expiresIn time.Duration
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			s.renderError(c, &apperrors.ValidationError{Field: "expires_in", Reason: "must be a duration such as 30m"})
			return
		}
		expiresIn = d
	}

	flow, err := s.confirmations.Create(c.Request.Context(), confirmation.CreateRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		ToolCall:  ports.ToolCall{Name: req.ToolName, Parameters: req.Parameters},
		Context: ports.ExecutionContext{
			SessionID:      req.SessionID,
			UserID:         req.UserID,
			Timestamp:      time.Now(),
			ChannelContext: req.ChannelContext,
		},
		ExpiresIn:      expiresIn,
		ChannelContext: req.ChannelContext,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, flow)
}

func (s *Server) handleGetConfirmation(c *gin.Context) {
	flow, err := s.confirmations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

type respondRequest struct {
	Confirmed   bool           `json:"confirmed"`
	UserContext map[string]any `json:"user_context"`
}

func (s *Server) handleRespondConfirmation(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, &apperrors.ValidationError{Field: "request body", Reason: err.Error()})
		return
	}

	flow, err := s.confirmations.Respond(c.Request.Context(), c.Param("id"), confirmation.Response{
		Confirmed:   req.Confirmed,
		UserContext: req.UserContext,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (s *Server) handleExecuteConfirmation(c *gin.Context) {
	flow, err := s.confirmations.Execute(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (s *Server) handlePendingConfirmations(c *gin.Context) {
	flows, err := s.confirmations.Pending(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmations": flows, "count": len(flows)})
}

func (s *Server) handleConfirmationStats(c *gin.Context) {
	stats, err := s.confirmations.Stats(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type workflowRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	UserID    string `json:"user_id"`
	Task      string `json:"task" binding:"required"`
}

func (s *Server) handleExecuteWorkflow(c *gin.Context) {
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, &apperrors.ValidationError{Field: "request body", Reason: err.Error()})
		return
	}

	result, err := s.workflows.Execute(c.Request.Context(), workflow.Request{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Task:      req.Task,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// renderError maps domain errors to HTTP statuses with a stable code
// so channel adapters can branch without parsing messages.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsValidation(err):
		status = http.StatusBadRequest
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsAlreadyResponded(err):
		status = http.StatusConflict
	default:
		var stateErr *apperrors.ExecutionStateError
		var limitErr *apperrors.IterationLimitError
		if errors.As(err, &stateErr) {
			status = http.StatusConflict
		} else if errors.As(err, &limitErr) {
			status = http.StatusUnprocessableEntity
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperrors.CodeOf(err)})
}
