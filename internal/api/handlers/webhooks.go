package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/service"
)

// HandleCarrierWebhook handles POST /webhooks/carrier.
//
// The response is always a 200 acknowledgement: carriers retry anything else
// indefinitely and cannot act on application-level detail, so even an unknown
// order or a processing failure is acknowledged and only logged here.
func HandleCarrierWebhook(webhooks *service.WebhookService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload service.WebhookPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			logger.Warn("malformed carrier webhook", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "ignored"})
			return
		}

		if err := webhooks.Process(c.Request.Context(), payload); err != nil {
			logger.Error("webhook processing failed",
				zap.String("awb", payload.AWB),
				zap.String("order_id", payload.OrderID),
				zap.String("status", payload.CurrentStatus),
				zap.Error(err))
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
