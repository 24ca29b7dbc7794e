package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/notify"
	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

// OrderService owns the order status state machine. Every status change in
// the system, webhook-driven or admin-driven, goes through Transition so the
// guards live in exactly one place.
type OrderService struct {
	repos    *repository.Repositories
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(repos *repository.Repositories, notifier notify.Notifier, logger *zap.Logger) *OrderService {
	return &OrderService{
		repos:    repos,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Transition validates and applies a status change, appending to the audit
// trail and persisting with the read status as the concurrency guard.
//
// trackingChanged marks transitions that accompany a new tracking assignment:
// those may re-enter the current status (carrier switch on an already shipped
// order) where a plain same-status transition is rejected as a duplicate.
func (s *OrderService) Transition(ctx context.Context, order *domain.Order, newStatus domain.OrderStatus, note string, trackingChanged bool) error {
	if !newStatus.IsValid() {
		return &errors.ErrInvalidTransition{From: string(order.Status), To: string(newStatus)}
	}
	if order.Status == domain.OrderStatusDelivered && newStatus == domain.OrderStatusCancelled {
		return &errors.ErrInvalidTransition{From: string(order.Status), To: string(newStatus)}
	}
	if newStatus == order.Status {
		if !trackingChanged {
			return &errors.ErrInvalidTransition{From: string(order.Status), To: string(newStatus)}
		}
	} else if !order.Status.CanTransitionTo(newStatus) {
		return &errors.ErrInvalidTransition{From: string(order.Status), To: string(newStatus)}
	}

	previous := order.Status
	order.AppendStatus(newStatus, s.now(), note)

	if err := s.repos.Order.Update(ctx, order, previous); err != nil {
		return err
	}

	s.logger.Info("order status changed",
		zap.String("order", order.OrderNumber),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
		zap.String("note", note))

	s.notifier.OrderStatusChanged(notify.Event{
		OrderNumber: order.OrderNumber,
		Status:      string(newStatus),
		Note:        note,
		TrackingID:  order.TrackingID,
		CourierName: order.CourierName,
	})

	return nil
}

// CancelOrder cancels an order and restocks its line items.
//
// The restock runs exactly once per cancellation: an already Cancelled order
// is a successful no-op, so a retried cancel never double-increments stock.
func (s *OrderService) CancelOrder(ctx context.Context, order *domain.Order, note string) error {
	if order.Status == domain.OrderStatusCancelled {
		s.logger.Info("cancel requested for already cancelled order",
			zap.String("order", order.OrderNumber))
		return nil
	}
	if order.Status == domain.OrderStatusDelivered {
		return &errors.ErrInvalidTransition{
			From: string(domain.OrderStatusDelivered),
			To:   string(domain.OrderStatusCancelled),
		}
	}

	for _, item := range order.Items {
		if err := s.repos.Product.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("restock failed",
				zap.String("order", order.OrderNumber),
				zap.String("product", item.ProductID.String()),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			return fmt.Errorf("restock failed for product %s: %w", item.ProductID, err)
		}
	}

	if note == "" {
		note = "Order cancelled"
	}
	return s.Transition(ctx, order, domain.OrderStatusCancelled, note, false)
}

// ConfirmOrder moves a Processing order to Confirmed
func (s *OrderService) ConfirmOrder(ctx context.Context, order *domain.Order, note string) error {
	if note == "" {
		note = "Order confirmed"
	}
	return s.Transition(ctx, order, domain.OrderStatusConfirmed, note, false)
}

// MarkDelivered applies the Delivered transition. COD orders have their
// payment collected by the carrier at the doorstep, so payment completes with
// delivery.
func (s *OrderService) MarkDelivered(ctx context.Context, order *domain.Order, note string) error {
	if order.PaymentMode != domain.PaymentModeOnline && order.PaymentStatus == domain.PaymentStatusPending {
		order.PaymentStatus = domain.PaymentStatusCompleted
	}
	return s.Transition(ctx, order, domain.OrderStatusDelivered, note, false)
}
