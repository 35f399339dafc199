package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"sagaflow.io/sagaflow/internal/api/handlers"
	"sagaflow.io/sagaflow/internal/api/middleware"
	"sagaflow.io/sagaflow/internal/pkg/logger"
)

// NewRouter builds the gin engine with the full middleware chain and all
// saga routes. The SSE stream route shares the chain; the CORS layer must
// therefore allow text/event-stream responses to browser dashboards.
func NewRouter(server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Cache-Control", middleware.RequestIDHeader},
		ExposeHeaders:   []string{middleware.RequestIDHeader},
		MaxAge:          12 * time.Hour,
	}))

	api := router.Group("/api/saga")
	{
		api.POST("/start", server.StartSaga)
		api.GET("/active", server.GetActiveSagas)
		api.GET("/types", server.GetSagaTypes)
		api.GET("/:sagaId", server.GetSagaState)
		api.GET("/:sagaId/events", server.GetSagaEvents)
		api.GET("/:sagaId/event-sourcing", server.GetEventSourcing)
		api.GET("/:sagaId/stream", server.StreamSagaEvents)
	}

	router.GET("/healthz", server.Healthz)

	// Runtime log level, e.g. PUT {"level":"debug"}.
	level := logger.HTTPHandler()
	router.GET("/log/level", gin.WrapH(level))
	router.PUT("/log/level", gin.WrapH(level))

	return router
}
