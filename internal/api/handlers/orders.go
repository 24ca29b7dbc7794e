package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/repository"
)

// OrderResponse is the customer-visible order view
type OrderResponse struct {
	OrderNumber   string                `json:"order_number"`
	Status        domain.OrderStatus    `json:"status"`
	Items         []domain.OrderItem    `json:"items"`
	Subtotal      float64               `json:"subtotal"`
	Discount      float64               `json:"discount"`
	Total         float64               `json:"total"`
	PaymentMode   domain.PaymentMode    `json:"payment_mode"`
	PaymentStatus domain.PaymentStatus  `json:"payment_status"`
	TrackingID    string                `json:"tracking_id,omitempty"`
	CourierName   string                `json:"courier_name,omitempty"`
	StatusHistory []StatusEntryResponse `json:"status_history"`
	CreatedAt     string                `json:"created_at"`
}

type StatusEntryResponse struct {
	Status    domain.OrderStatus `json:"status"`
	Timestamp string             `json:"timestamp"`
	Note      string             `json:"note,omitempty"`
}

// HandleGetOrder handles GET /v1/orders/:orderNumber
func HandleGetOrder(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := fetchOrder(c, repos, logger)
		if !ok {
			return
		}

		history := make([]StatusEntryResponse, len(order.StatusHistory))
		for i, entry := range order.StatusHistory {
			history[i] = StatusEntryResponse{
				Status:    entry.Status,
				Timestamp: entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
				Note:      entry.Note,
			}
		}

		c.JSON(http.StatusOK, OrderResponse{
			OrderNumber:   order.OrderNumber,
			Status:        order.Status,
			Items:         order.Items,
			Subtotal:      order.Subtotal,
			Discount:      order.Discount,
			Total:         order.Total,
			PaymentMode:   order.PaymentMode,
			PaymentStatus: order.PaymentStatus,
			TrackingID:    order.TrackingID,
			CourierName:   order.CourierName,
			StatusHistory: history,
			CreatedAt:     order.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}
