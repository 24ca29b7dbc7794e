package handlers

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/internal/service"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

// CreateShipmentRequest selects the carrier and courier option to book
type CreateShipmentRequest struct {
	Carrier         string `json:"carrier" binding:"required"`
	CourierOptionID string `json:"courier_option_id"`
}

// ManualEntryRequest is the hand-typed tracking assignment
type ManualEntryRequest struct {
	CourierName string `json:"courier_name" binding:"required"`
	TrackingID  string `json:"tracking_id" binding:"required"`
}

// HandleEstimate handles GET /v1/admin/orders/:orderNumber/shipment/estimate
func HandleEstimate(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		carrierName := c.Query("carrier")
		quotes, err := shipments.Estimate(c.Request.Context(), order, carrierName)
		if err != nil {
			respondError(c, logger, err, shipments.Suggestion(carrierName))
			return
		}

		respondOK(c, gin.H{"quotes": quotes})
	}
}

// HandleCreateShipment handles POST /v1/admin/orders/:orderNumber/shipment/create
func HandleCreateShipment(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		var req CreateShipmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(422, gin.H{"success": false, "error": "validation failed", "details": err.Error()})
			return
		}

		sub, err := shipments.Create(c.Request.Context(), order, req.Carrier, req.CourierOptionID)
		if err != nil {
			respondError(c, logger, err, shipments.Suggestion(req.Carrier))
			return
		}

		respondOK(c, gin.H{
			"carrier":     sub.Carrier,
			"shipment_id": sub.ShipmentID,
			"awb":         sub.AWB,
		})
	}
}

// HandleGenerateAWB handles POST /v1/admin/orders/:orderNumber/shipment/generate-awb
func HandleGenerateAWB(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		sub, err := shipments.GenerateAWB(c.Request.Context(), order)
		if err != nil {
			// An AWB that already exists is success with existing data, not
			// a failure to surface.
			var already *errors.ErrAlreadyAssigned
			if stderrors.As(err, &already) && sub != nil {
				respondOK(c, gin.H{
					"awb":          sub.AWB,
					"courier_name": sub.CourierName,
					"message":      "AWB already assigned",
				})
				return
			}
			respondError(c, logger, err, shipments.Suggestion(""))
			return
		}

		respondOK(c, gin.H{
			"awb":          sub.AWB,
			"courier_name": sub.CourierName,
		})
	}
}

// HandleCancelShipment handles POST /v1/admin/orders/:orderNumber/shipment/cancel
func HandleCancelShipment(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		if err := shipments.CancelShipment(c.Request.Context(), order); err != nil {
			respondError(c, logger, err, "Use Manual Entry if the shipment was cancelled directly with the carrier")
			return
		}

		respondOK(c, gin.H{"message": "shipment cancelled"})
	}
}

// HandleLabel handles GET /v1/admin/orders/:orderNumber/shipment/label
func HandleLabel(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		url, err := shipments.Label(c.Request.Context(), order)
		if err != nil {
			respondError(c, logger, err, "")
			return
		}

		respondOK(c, gin.H{"label_url": url})
	}
}

// HandleManifest handles GET /v1/admin/orders/:orderNumber/shipment/manifest
func HandleManifest(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		url, err := shipments.Manifest(c.Request.Context(), order)
		if err != nil {
			respondError(c, logger, err, "")
			return
		}

		respondOK(c, gin.H{"manifest_url": url})
	}
}

// HandleTrack handles GET /v1/admin/orders/:orderNumber/shipment/track
func HandleTrack(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		info, err := shipments.Track(c.Request.Context(), order)
		if err != nil {
			respondError(c, logger, err, "")
			return
		}

		respondOK(c, gin.H{
			"tracking_id": order.TrackingID,
			"raw_status":  info.RawStatus,
			"events":      info.Events,
		})
	}
}

// HandleManualEntry handles POST /v1/admin/orders/:orderNumber/shipment/manual-entry
func HandleManualEntry(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		var req ManualEntryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(422, gin.H{"success": false, "error": "validation failed", "details": err.Error()})
			return
		}

		if err := shipments.ManualEntry(c.Request.Context(), order, req.CourierName, req.TrackingID); err != nil {
			respondError(c, logger, err, "")
			return
		}

		respondOK(c, gin.H{
			"tracking_id":  order.TrackingID,
			"courier_name": order.CourierName,
			"status":       order.Status,
		})
	}
}
