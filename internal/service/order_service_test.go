package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

func newTestOrder(status domain.OrderStatus) *domain.Order {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	order := &domain.Order{
		ID:            uuid.New(),
		OrderNumber:   "NM-20260301-AB12CD",
		Status:        status,
		PaymentMode:   domain.PaymentModeCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Total:         1200,
		CreatedAt:     now,
	}
	order.StatusHistory = []domain.StatusEntry{
		{Status: domain.OrderStatusProcessing, Timestamp: now, Note: "Order placed"},
	}
	return order
}

func TestTransitionAppendsHistory(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	orderRepo := newFakeOrderRepo(order)
	notifier := &recordingNotifier{}
	svc := NewOrderService(newFakeRepos(orderRepo, newFakeProductRepo()), notifier, zap.NewNop())

	err := svc.Transition(context.Background(), order, domain.OrderStatusConfirmed, "Order confirmed", false)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.Len(t, order.StatusHistory, 2)
	assert.Equal(t, domain.OrderStatusConfirmed, order.StatusHistory[1].Status)
	assert.Equal(t, "Order confirmed", order.StatusHistory[1].Note)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "CONFIRMED", notifier.events[0].Status)
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	tests := []struct {
		name string
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{"delivered to cancelled", domain.OrderStatusDelivered, domain.OrderStatusCancelled},
		{"cancelled to shipped", domain.OrderStatusCancelled, domain.OrderStatusShipped},
		{"processing to delivered", domain.OrderStatusProcessing, domain.OrderStatusDelivered},
		{"shipped to confirmed", domain.OrderStatusShipped, domain.OrderStatusConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := newTestOrder(tt.from)
			orderRepo := newFakeOrderRepo(order)
			svc := NewOrderService(newFakeRepos(orderRepo, newFakeProductRepo()), &recordingNotifier{}, zap.NewNop())

			err := svc.Transition(context.Background(), order, tt.to, "", false)

			var invalid *errors.ErrInvalidTransition
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.from, order.Status)
			assert.Len(t, order.StatusHistory, 1, "rejected transition must not touch the audit trail")
		})
	}
}

func TestTransitionSameStatus(t *testing.T) {
	t.Run("rejected without tracking change", func(t *testing.T) {
		order := newTestOrder(domain.OrderStatusShipped)
		orderRepo := newFakeOrderRepo(order)
		svc := NewOrderService(newFakeRepos(orderRepo, newFakeProductRepo()), &recordingNotifier{}, zap.NewNop())

		err := svc.Transition(context.Background(), order, domain.OrderStatusShipped, "", false)

		var invalid *errors.ErrInvalidTransition
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("allowed with tracking change", func(t *testing.T) {
		order := newTestOrder(domain.OrderStatusShipped)
		orderRepo := newFakeOrderRepo(order)
		svc := NewOrderService(newFakeRepos(orderRepo, newFakeProductRepo()), &recordingNotifier{}, zap.NewNop())

		err := svc.Transition(context.Background(), order, domain.OrderStatusShipped, "Carrier switched", true)
		require.NoError(t, err)
		assert.Len(t, order.StatusHistory, 2)
	})
}

func TestTransitionConcurrentWriterLoses(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	orderRepo := newFakeOrderRepo(order)
	svc := NewOrderService(newFakeRepos(orderRepo, newFakeProductRepo()), &recordingNotifier{}, zap.NewNop())

	// A second reader holds a stale copy while the first writer moves the order
	stale := *order
	require.NoError(t, svc.Transition(context.Background(), order, domain.OrderStatusConfirmed, "", false))

	err := svc.Transition(context.Background(), &stale, domain.OrderStatusCancelled, "", false)

	var conflict *errors.ErrConflict
	require.ErrorAs(t, err, &conflict)
}

func TestCancelOrderRestocksOnce(t *testing.T) {
	productA := uuid.New()
	productB := uuid.New()

	order := newTestOrder(domain.OrderStatusConfirmed)
	order.Items = []domain.OrderItem{
		{ProductID: productA, Quantity: 2, UnitPrice: 300},
		{ProductID: productB, Quantity: 1, UnitPrice: 600},
	}

	orderRepo := newFakeOrderRepo(order)
	productRepo := newFakeProductRepo()
	productRepo.stock[productA] = 10
	productRepo.stock[productB] = 4
	svc := NewOrderService(newFakeRepos(orderRepo, productRepo), &recordingNotifier{}, zap.NewNop())

	require.NoError(t, svc.CancelOrder(context.Background(), order, "Customer request"))
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, 12, productRepo.stock[productA])
	assert.Equal(t, 5, productRepo.stock[productB])

	// Cancelling again is a successful no-op, no double restock
	require.NoError(t, svc.CancelOrder(context.Background(), order, "Customer request"))
	assert.Equal(t, 12, productRepo.stock[productA])
	assert.Equal(t, 5, productRepo.stock[productB])
	assert.Equal(t, 2, productRepo.adjustments)
}

func TestCancelOrderRejectsDelivered(t *testing.T) {
	order := newTestOrder(domain.OrderStatusDelivered)
	orderRepo := newFakeOrderRepo(order)
	productRepo := newFakeProductRepo()
	svc := NewOrderService(newFakeRepos(orderRepo, productRepo), &recordingNotifier{}, zap.NewNop())

	err := svc.CancelOrder(context.Background(), order, "")

	var invalid *errors.ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, productRepo.adjustments)
}

func TestMarkDeliveredCompletesCODPayment(t *testing.T) {
	order := newTestOrder(domain.OrderStatusShipped)
	order.PaymentMode = domain.PaymentModeCOD
	order.PaymentStatus = domain.PaymentStatusPending

	orderRepo := newFakeOrderRepo(order)
	svc := NewOrderService(newFakeRepos(orderRepo, newFakeProductRepo()), &recordingNotifier{}, zap.NewNop())

	require.NoError(t, svc.MarkDelivered(context.Background(), order, "Delivered"))
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.Equal(t, domain.PaymentStatusCompleted, order.PaymentStatus)
}

func TestMarkDeliveredLeavesOnlinePaymentAlone(t *testing.T) {
	order := newTestOrder(domain.OrderStatusShipped)
	order.PaymentMode = domain.PaymentModeOnline
	order.PaymentStatus = domain.PaymentStatusPending

	orderRepo := newFakeOrderRepo(order)
	svc := NewOrderService(newFakeRepos(orderRepo, newFakeProductRepo()), &recordingNotifier{}, zap.NewNop())

	require.NoError(t, svc.MarkDelivered(context.Background(), order, ""))
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
}
