package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/api/handlers"
	"github.com/naturemedica/fulfillment-api/internal/api/middleware"
	"github.com/naturemedica/fulfillment-api/internal/config"
	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/internal/service"
)

// NewRouter creates and configures the Gin router
func NewRouter(
	cfg *config.Config,
	repos *repository.Repositories,
	orders *service.OrderService,
	shipments *service.ShipmentService,
	webhooks *service.WebhookService,
	logger *zap.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Carrier status pushes. Unauthenticated by carrier contract; the handler
	// always acknowledges.
	router.POST("/webhooks/carrier", handlers.HandleCarrierWebhook(webhooks, logger))

	// API v1 routes
	v1 := router.Group("/v1")
	{
		// Customer-facing order status lookup
		v1.GET("/orders/:orderNumber", handlers.HandleGetOrder(repos, logger))

		// Admin routes (staff API key)
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(middleware.AuthMiddleware(repos, logger))
		{
			adminRoutes.GET("/orders", handlers.HandleListOrders(repos, logger))
			adminRoutes.POST("/orders", handlers.HandleCreateOrder(repos, shipments, logger))
			adminRoutes.POST("/orders/:orderNumber/status", handlers.HandleUpdateStatus(repos, orders, shipments, logger))

			shipment := adminRoutes.Group("/orders/:orderNumber/shipment")
			{
				shipment.GET("/estimate", handlers.HandleEstimate(repos, shipments, logger))
				shipment.POST("/create", handlers.HandleCreateShipment(repos, shipments, logger))
				shipment.POST("/generate-awb", handlers.HandleGenerateAWB(repos, shipments, logger))
				shipment.POST("/cancel", handlers.HandleCancelShipment(repos, shipments, logger))
				shipment.GET("/label", handlers.HandleLabel(repos, shipments, logger))
				shipment.GET("/manifest", handlers.HandleManifest(repos, shipments, logger))
				shipment.GET("/track", handlers.HandleTrack(repos, shipments, logger))
				shipment.POST("/manual-entry", handlers.HandleManualEntry(repos, shipments, logger))
			}
		}
	}

	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
		)
	}
}
