package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "sagaflow.io/sagaflow/internal/pkg/errors"
	"sagaflow.io/sagaflow/internal/saga"
)

// StartSagaRequest is the body of POST /api/saga/start.
type StartSagaRequest struct {
	SagaType string       `json:"sagaType" binding:"required"`
	Data     saga.Payload `json:"data"`
}

// StartSagaResponse carries the generated saga id.
type StartSagaResponse struct {
	SagaID string `json:"sagaId"`
}

// SagaTypeInfo describes one registered saga type.
type SagaTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	TotalSteps  int    `json:"totalSteps"`
}

// StartSaga handles POST /api/saga/start.
func (s *Server) StartSaga(c *gin.Context) {
	var req StartSagaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeInvalidRequest,
			"request body must carry sagaType", http.StatusBadRequest))
		return
	}

	sagaID, err := s.orchestrator.StartSaga(c.Request.Context(), req.SagaType, req.Data)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, StartSagaResponse{SagaID: sagaID})
}

// GetSagaState handles GET /api/saga/:sagaId.
func (s *Server) GetSagaState(c *gin.Context) {
	state, err := s.store.GetState(c.Request.Context(), c.Param("sagaId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetSagaEvents handles GET /api/saga/:sagaId/events.
func (s *Server) GetSagaEvents(c *gin.Context) {
	sagaID := c.Param("sagaId")
	if _, err := s.store.GetState(c.Request.Context(), sagaID); err != nil {
		_ = c.Error(err)
		return
	}
	events, err := s.store.GetEvents(c.Request.Context(), sagaID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetEventSourcing handles GET /api/saga/:sagaId/event-sourcing.
func (s *Server) GetEventSourcing(c *gin.Context) {
	view, err := s.store.GetEventSourcing(c.Request.Context(), c.Param("sagaId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetActiveSagas handles GET /api/saga/active.
func (s *Server) GetActiveSagas(c *gin.Context) {
	states, err := s.store.ListActive(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, states)
}

// GetSagaTypes handles GET /api/saga/types.
func (s *Server) GetSagaTypes(c *gin.Context) {
	defs := s.registry.Types()
	types := make([]SagaTypeInfo, 0, len(defs))
	for _, def := range defs {
		types = append(types, SagaTypeInfo{
			Type:        def.SagaType,
			Description: def.Description,
			TotalSteps:  def.TotalSteps(),
		})
	}
	c.JSON(http.StatusOK, types)
}
