package routes

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/api/handlers"
	"github.com/lumipay/risk-engine/internal/api/middleware"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/pkg/tracing"
)

// Setup builds the gin engine with the full middleware chain and routes.
func Setup(
	cfg *config.Config,
	riskHandler *handlers.RiskHandler,
	healthHandler *handlers.HealthHandler,
	metricsHandler gin.HandlerFunc,
	logger *zap.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	if cfg.Tracing.Enabled {
		router.Use(tracing.HTTPMiddleware())
	}
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", metricsHandler)
	if cfg.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := router.Group("/api/v1")
	{
		// Called service-to-service by the payment processor.
		v1.POST("/risk/evaluate", riskHandler.EvaluatePayment)

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.JWT))
		{
			admin.GET("/checks", riskHandler.ListPendingChecks)
			admin.GET("/checks/:id", riskHandler.GetCheck)
			admin.POST("/checks/:id/review", riskHandler.ReviewCheck)

			admin.GET("/activities", riskHandler.ListActivities)
			admin.POST("/activities/:id/resolve", riskHandler.ResolveActivity)

			admin.GET("/users/:id/checks", riskHandler.ListUserChecks)
			admin.POST("/users/:id/evaluate", riskHandler.EvaluateUser)
			admin.GET("/users/:id/network", riskHandler.GetUserNetwork)

			admin.GET("/users/:id/limits", riskHandler.ListLimits)
			admin.POST("/users/:id/limits", riskHandler.AssignLimit)
			admin.DELETE("/users/:id/limits/:type", riskHandler.RemoveLimit)

			admin.POST("/blocklist", riskHandler.AddBlocklistIP)
			admin.DELETE("/blocklist/:ip", riskHandler.RemoveBlocklistIP)
		}
	}

	return router
}
