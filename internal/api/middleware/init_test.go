package middleware

import "sagaflow.io/sagaflow/internal/pkg/logger"

func init() {
	// Initialize logger for tests
	_ = logger.Init("error", "json")
}
