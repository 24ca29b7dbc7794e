package service

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/carrier"
	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

// WebhookPayload is the status push carriers send
type WebhookPayload struct {
	AWB           string `json:"awb"`
	CurrentStatus string `json:"current_status"`
	OrderID       string `json:"order_id"`
}

// WebhookService reconciles asynchronous carrier status pushes against the
// order status state machine. It never fails toward the carrier: unknown
// orders, unknown vocabulary and replayed events are all absorbed.
type WebhookService struct {
	repos    *repository.Repositories
	orders   *OrderService
	adapters map[string]carrier.Adapter
	logger   *zap.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(repos *repository.Repositories, orders *OrderService, adapters []carrier.Adapter, logger *zap.Logger) *WebhookService {
	byName := make(map[string]carrier.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &WebhookService{
		repos:    repos,
		orders:   orders,
		adapters: byName,
		logger:   logger,
	}
}

// Process applies one carrier push. The returned error is for logging only;
// the HTTP layer acknowledges regardless, carriers cannot act on application
// detail and would only retry-storm on anything else.
func (s *WebhookService) Process(ctx context.Context, payload WebhookPayload) error {
	order, err := s.lookupOrder(ctx, payload)
	if err != nil {
		var notFound *errors.ErrNotFound
		if stderrors.As(err, &notFound) {
			// Webhooks for unknown or foreign orders are not errors, the
			// carrier may retry indefinitely otherwise.
			s.logger.Info("webhook for unknown order ignored",
				zap.String("awb", payload.AWB),
				zap.String("order_id", payload.OrderID))
			return nil
		}
		return err
	}

	mapped, raw, ok := s.mapStatus(order, payload.CurrentStatus)
	if !ok {
		s.logger.Debug("webhook status has no internal mapping",
			zap.String("order", order.OrderNumber),
			zap.String("raw_status", payload.CurrentStatus))
		return nil
	}

	live := order.LiveShipment()

	if mapped == order.Status {
		// Carriers resend events; a replay of the recorded status is
		// absorbed, never rejected. Keep the raw vocabulary fresh on the
		// sub-record when it moved within the same internal state.
		if live != nil && live.CarrierStatus != raw {
			live.CarrierStatus = raw
			if err := s.repos.Order.Update(ctx, order, order.Status); err != nil {
				return err
			}
		}
		return nil
	}

	carrierLabel := order.CourierName
	if carrierLabel == "" && live != nil {
		carrierLabel = live.Carrier
	}
	note := fmt.Sprintf("Carrier %s reported %q", carrierLabel, raw)

	if live != nil {
		live.CarrierStatus = raw
	}

	switch mapped {
	case domain.OrderStatusDelivered:
		return s.orders.MarkDelivered(ctx, order, note)
	case domain.OrderStatusCancelled:
		// RTO and carrier cancellation restock through the same exactly-once
		// cancellation path admins use.
		if live != nil {
			now := s.orders.now()
			live.CancelledAt = &now
		}
		return s.orders.CancelOrder(ctx, order, note)
	default:
		return s.orders.Transition(ctx, order, mapped, note, false)
	}
}

// lookupOrder resolves the webhook to an order, first by the canonical
// tracking id, then by the order reference we handed the carrier at creation
func (s *WebhookService) lookupOrder(ctx context.Context, payload WebhookPayload) (*domain.Order, error) {
	if payload.AWB != "" {
		order, err := s.repos.Order.GetByTrackingID(ctx, payload.AWB)
		if err == nil {
			return order, nil
		}
		var notFound *errors.ErrNotFound
		if !stderrors.As(err, &notFound) {
			return nil, err
		}
	}
	if payload.OrderID != "" {
		return s.repos.Order.GetByOrderNumber(ctx, payload.OrderID)
	}
	return nil, &errors.ErrNotFound{Resource: "order", ID: payload.AWB}
}

// mapStatus translates the raw vocabulary via the adapter that owns the
// order's live shipment, falling back to any adapter that recognizes it
func (s *WebhookService) mapStatus(order *domain.Order, raw string) (domain.OrderStatus, string, bool) {
	if live := order.LiveShipment(); live != nil {
		if a, ok := s.adapters[live.Carrier]; ok {
			mapped, ok := a.MapStatus(raw)
			return mapped, raw, ok
		}
	}
	for _, a := range s.adapters {
		if mapped, ok := a.MapStatus(raw); ok {
			return mapped, raw, ok
		}
	}
	return "", raw, false
}
