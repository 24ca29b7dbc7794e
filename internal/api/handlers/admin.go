package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/internal/service"
)

// CreateOrderRequest is the order intake payload from the checkout
// collaborator
type CreateOrderRequest struct {
	Items         []OrderItemRequest  `json:"items" binding:"required,min=1"`
	Customer      domain.CustomerInfo `json:"customer" binding:"required"`
	Subtotal      float64             `json:"subtotal" binding:"required,min=0"`
	Discount      float64             `json:"discount" binding:"min=0"`
	Total         float64             `json:"total" binding:"required,min=0"`
	PaymentMode   string              `json:"payment_mode" binding:"required"`
	PaymentStatus string              `json:"payment_status"`
	PaymentRefs   map[string]string   `json:"payment_refs"`
	AdvanceAmount float64             `json:"advance_amount"`
	WeightKg      float64             `json:"weight_kg" binding:"required,min=0"`
}

type OrderItemRequest struct {
	ProductID string  `json:"product_id" binding:"required"`
	Title     string  `json:"title" binding:"required"`
	Variant   string  `json:"variant"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	UnitPrice float64 `json:"unit_price" binding:"required,min=0"`
}

// UpdateStatusRequest drives admin transitions through the state machine
type UpdateStatusRequest struct {
	Status domain.OrderStatus `json:"status" binding:"required"`
	Note   string             `json:"note"`
}

// HandleCreateOrder handles POST /v1/admin/orders. Every order starts in
// Processing; entering Processing triggers automatic shipment creation in the
// background, failures there leave the order for the sweep or manual paths.
func HandleCreateOrder(repos *repository.Repositories, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error":   "validation failed",
				"details": err.Error(),
			})
			return
		}

		items := make([]domain.OrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			productID, err := uuid.Parse(item.ProductID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid product ID"})
				return
			}
			items = append(items, domain.OrderItem{
				ProductID: productID,
				Title:     item.Title,
				Variant:   item.Variant,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}

		now := time.Now()
		paymentStatus := domain.PaymentStatus(req.PaymentStatus)
		if paymentStatus == "" {
			paymentStatus = domain.PaymentStatusPending
		}

		order := &domain.Order{
			OrderNumber:   domain.NewOrderNumber(now),
			Items:         items,
			Customer:      req.Customer,
			Subtotal:      req.Subtotal,
			Discount:      req.Discount,
			Total:         req.Total,
			PaymentMode:   domain.PaymentMode(req.PaymentMode),
			PaymentStatus: paymentStatus,
			PaymentRefs:   req.PaymentRefs,
			AdvanceAmount: req.AdvanceAmount,
			WeightKg:      req.WeightKg,
			Status:        domain.OrderStatusProcessing,
		}
		order.AppendStatus(domain.OrderStatusProcessing, now, "Order placed")

		if err := repos.Order.Create(c.Request.Context(), order); err != nil {
			respondError(c, logger, err, "")
			return
		}

		// Detached from the request context so a fast client disconnect does
		// not abort the carrier booking.
		go func(orderNumber string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			fresh, err := repos.Order.GetByOrderNumber(ctx, orderNumber)
			if err != nil {
				logger.Error("automatic shipment trigger lost order", zap.String("order", orderNumber), zap.Error(err))
				return
			}
			if err := shipments.AutoCreate(ctx, fresh); err != nil {
				logger.Error("automatic shipment creation failed",
					zap.String("order", orderNumber), zap.Error(err))
			}
		}(order.OrderNumber)

		respondOK(c, gin.H{
			"order_number": order.OrderNumber,
			"status":       order.Status,
		})
	}
}

// HandleUpdateStatus handles POST /v1/admin/orders/:orderNumber/status.
// Cancellation also cancels the live carrier shipment.
func HandleUpdateStatus(repos *repository.Repositories, orders *service.OrderService, shipments *service.ShipmentService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error":   "validation failed",
				"details": err.Error(),
			})
			return
		}
		if !req.Status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status"})
			return
		}

		var err error
		switch req.Status {
		case domain.OrderStatusCancelled:
			err = shipments.CancelOrder(c.Request.Context(), order, req.Note)
		case domain.OrderStatusConfirmed:
			err = orders.ConfirmOrder(c.Request.Context(), order, req.Note)
		case domain.OrderStatusDelivered:
			err = orders.MarkDelivered(c.Request.Context(), order, req.Note)
		default:
			err = orders.Transition(c.Request.Context(), order, req.Status, req.Note, false)
		}
		if err != nil {
			respondError(c, logger, err, "")
			return
		}

		respondOK(c, gin.H{
			"order_number": order.OrderNumber,
			"status":       order.Status,
		})
	}
}

// HandleListOrders handles GET /v1/admin/orders
func HandleListOrders(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		statusStr := c.Query("status")
		limitStr := c.DefaultQuery("limit", "50")
		offsetStr := c.DefaultQuery("offset", "0")

		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 100 {
			limit = 50
		}

		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			offset = 0
		}

		var orders []*domain.Order
		if statusStr != "" {
			status := domain.OrderStatus(statusStr)
			if !status.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid status"})
				return
			}
			orders, err = repos.Order.ListByStatus(c.Request.Context(), status, limit, offset)
		} else {
			orders, err = repos.Order.ListAll(c.Request.Context(), limit, offset)
		}

		if err != nil {
			respondError(c, logger, err, "")
			return
		}

		orderResponses := make([]gin.H, len(orders))
		for i, order := range orders {
			orderResponses[i] = gin.H{
				"order_number":   order.OrderNumber,
				"status":         order.Status,
				"customer_name":  order.Customer.Name,
				"total":          order.Total,
				"payment_mode":   order.PaymentMode,
				"payment_status": order.PaymentStatus,
				"tracking_id":    order.TrackingID,
				"courier_name":   order.CourierName,
				"created_at":     order.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				"updated_at":     order.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			}
		}

		respondOK(c, gin.H{
			"orders": orderResponses,
			"limit":  limit,
			"offset": offset,
		})
	}
}
