package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/carrier"
	"github.com/naturemedica/fulfillment-api/internal/domain"
)

func shiprocketStatusMap() map[string]domain.OrderStatus {
	return map[string]domain.OrderStatus{
		"IN TRANSIT":       domain.OrderStatusShipped,
		"OUT FOR DELIVERY": domain.OrderStatusShipped,
		"DELIVERED":        domain.OrderStatusDelivered,
		"RTO INITIATED":    domain.OrderStatusCancelled,
	}
}

func newShippedOrder() *domain.Order {
	order := newTestOrder(domain.OrderStatusShipped)
	order.TrackingID = "AWB123"
	order.CourierName = "Ecom Express"
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", AWB: "AWB123", CarrierStatus: "IN TRANSIT", CreatedAt: time.Now()},
	}
	return order
}

func newWebhookFixture(order *domain.Order) (*WebhookService, *fakeProductRepo, *recordingNotifier) {
	orderRepo := newFakeOrderRepo(order)
	productRepo := newFakeProductRepo()
	repos := newFakeRepos(orderRepo, productRepo)
	notifier := &recordingNotifier{}
	orders := NewOrderService(repos, notifier, zap.NewNop())
	sr := &fakeAdapter{name: "shiprocket", statusMap: shiprocketStatusMap()}
	svc := NewWebhookService(repos, orders, []carrier.Adapter{sr}, zap.NewNop())
	return svc, productRepo, notifier
}

func TestWebhookDelivered(t *testing.T) {
	order := newShippedOrder()
	svc, _, notifier := newWebhookFixture(order)

	payload := WebhookPayload{AWB: "AWB123", CurrentStatus: "DELIVERED"}
	require.NoError(t, svc.Process(context.Background(), payload))

	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
	assert.Equal(t, domain.PaymentStatusCompleted, order.PaymentStatus, "COD payment completes with delivery")

	last := order.StatusHistory[len(order.StatusHistory)-1]
	assert.Contains(t, last.Note, "DELIVERED")
	require.Len(t, notifier.events, 1)

	t.Run("replay is absorbed", func(t *testing.T) {
		historyLen := len(order.StatusHistory)
		require.NoError(t, svc.Process(context.Background(), payload))
		assert.Len(t, order.StatusHistory, historyLen)
		assert.Len(t, notifier.events, 1, "a replayed event must not re-notify")
	})
}

func TestWebhookUnknownOrderIgnored(t *testing.T) {
	order := newShippedOrder()
	svc, _, _ := newWebhookFixture(order)

	err := svc.Process(context.Background(), WebhookPayload{AWB: "AWB-FOREIGN", CurrentStatus: "DELIVERED"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, order.Status)
}

func TestWebhookUnknownVocabularyIgnored(t *testing.T) {
	order := newShippedOrder()
	svc, _, _ := newWebhookFixture(order)

	err := svc.Process(context.Background(), WebhookPayload{AWB: "AWB123", CurrentStatus: "MISROUTED AT HUB"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, order.Status)
	assert.Len(t, order.StatusHistory, 1)
}

func TestWebhookRTOCancelsAndRestocks(t *testing.T) {
	productA := uuid.New()
	order := newShippedOrder()
	order.Items = []domain.OrderItem{{ProductID: productA, Quantity: 2, UnitPrice: 600}}

	svc, productRepo, _ := newWebhookFixture(order)
	productRepo.stock[productA] = 10

	payload := WebhookPayload{AWB: "AWB123", CurrentStatus: "RTO INITIATED"}
	require.NoError(t, svc.Process(context.Background(), payload))

	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, 12, productRepo.stock[productA])

	sub := order.Shipment("shiprocket")
	require.NotNil(t, sub)
	assert.NotNil(t, sub.CancelledAt)

	t.Run("retried rto does not restock again", func(t *testing.T) {
		require.NoError(t, svc.Process(context.Background(), payload))
		assert.Equal(t, 12, productRepo.stock[productA])
	})
}

func TestWebhookSameStatusRefreshesRawVocabulary(t *testing.T) {
	order := newShippedOrder()
	svc, _, notifier := newWebhookFixture(order)

	err := svc.Process(context.Background(), WebhookPayload{AWB: "AWB123", CurrentStatus: "OUT FOR DELIVERY"})
	require.NoError(t, err)

	// Both raw statuses map to Shipped: no transition, no notification, but the
	// sub-record tracks the carrier's latest vocabulary.
	assert.Equal(t, domain.OrderStatusShipped, order.Status)
	assert.Len(t, order.StatusHistory, 1)
	assert.Empty(t, notifier.events)
	assert.Equal(t, "OUT FOR DELIVERY", order.Shipment("shiprocket").CarrierStatus)
}

func TestWebhookFallsBackToOrderReference(t *testing.T) {
	// Delhivery-style push carrying the order reference instead of a known AWB
	order := newShippedOrder()
	svc, _, _ := newWebhookFixture(order)

	payload := WebhookPayload{AWB: "AWB-UNSEEN", OrderID: order.OrderNumber, CurrentStatus: "DELIVERED"}
	require.NoError(t, svc.Process(context.Background(), payload))
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
}
