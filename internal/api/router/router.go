package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/fanout-publisher/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	submissions := handler.NewSubmissionHandler(deps)
	auth := ServiceTokenMiddleware(deps.ServiceToken)

	// API v1 routes
	v1 := r.Group("/api/v1", auth)
	{
		subs := v1.Group("/submissions")
		{
			subs.POST("", submissions.Submit)
			subs.GET("", submissions.List)
			subs.GET("/:submission_id", submissions.GetStatus)
			subs.POST("/:submission_id/retry", submissions.Retry)
			subs.GET("/:submission_id/platform-status", submissions.PlatformStatus)
		}
	}

	// Ingest bot routes
	legacy := r.Group("", auth)
	{
		legacy.POST("/ingest", submissions.Submit)
		legacy.GET("/status/:submission_id", submissions.GetStatus)
		legacy.POST("/retry_failed/:submission_id", submissions.Retry)
	}

	return r
}

// SetupOpsRouter serves only /health and /metrics, for processes without the submission API
func SetupOpsRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", handler.Health(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
