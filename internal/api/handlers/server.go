// Package handlers implements the SagaFlow HTTP API over gin.
//
// Handlers push failures through c.Error; the error-handler middleware
// turns AppError values into consistent JSON responses.
package handlers

import (
	"sagaflow.io/sagaflow/internal/orchestrator"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/store"
	"sagaflow.io/sagaflow/internal/stream"
)

// Server holds the handlers' dependencies.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	registry     *saga.Registry
	store        store.Store
	hub          *stream.Hub
}

// ServerDeps holds all dependencies for creating a Server. Manual DI, no
// Wire/Dig.
type ServerDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *saga.Registry
	Store        store.Store
	Hub          *stream.Hub
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		store:        deps.Store,
		hub:          deps.Hub,
	}
}
