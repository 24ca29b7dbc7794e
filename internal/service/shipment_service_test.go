package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/carrier"
	"github.com/naturemedica/fulfillment-api/internal/config"
	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

func testShippingConfig() config.ShippingConfig {
	return config.ShippingConfig{
		DefaultCarrier: "shiprocket",
		PickupLocation: "Primary",
		PickupPincode:  "110001",
	}
}

func newShipmentFixture(order *domain.Order, adapters ...carrier.Adapter) (*ShipmentService, *fakeOrderRepo, *fakeProductRepo) {
	orderRepo := newFakeOrderRepo(order)
	productRepo := newFakeProductRepo()
	repos := newFakeRepos(orderRepo, productRepo)
	orders := NewOrderService(repos, &recordingNotifier{}, zap.NewNop())
	svc := NewShipmentService(repos, orders, adapters, testShippingConfig(), zap.NewNop())
	return svc, orderRepo, productRepo
}

func surfaceOption() carrier.CourierOption {
	return carrier.CourierOption{ID: "51", Name: "Ecom Express", TotalCharge: 78, EstimatedDays: 5, Surface: true}
}

func TestAutoCreateShipsOrder(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	sr := &fakeAdapter{
		name:                  "shiprocket",
		serviceabilityOptions: []carrier.CourierOption{surfaceOption()},
		createResult:          &carrier.ShipmentResult{ShipmentID: "9001"},
		awbResult:             &carrier.AWBResult{AWB: "AWB123", CourierName: "Ecom Express"},
	}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.AutoCreate(context.Background(), order))

	assert.Equal(t, domain.OrderStatusShipped, order.Status)
	assert.Equal(t, "AWB123", order.TrackingID)
	assert.Equal(t, "Ecom Express", order.CourierName)

	sub := order.Shipment("shiprocket")
	require.NotNil(t, sub)
	assert.Equal(t, "9001", sub.ShipmentID)
	assert.Equal(t, "AWB123", sub.AWB)
	assert.True(t, sub.Live())

	last := order.StatusHistory[len(order.StatusHistory)-1]
	assert.Equal(t, domain.OrderStatusShipped, last.Status)
	assert.Contains(t, last.Note, "AWB123")
}

func TestAutoCreateUnserviceableLeavesOrderUntouched(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	sr := &fakeAdapter{
		name:              "shiprocket",
		serviceabilityErr: &errors.ErrServiceUnavailable{Carrier: "shiprocket", Pincode: "999999"},
	}
	svc, orderRepo, _ := newShipmentFixture(order, sr)

	err := svc.AutoCreate(context.Background(), order)

	var unserviceable *errors.ErrServiceUnavailable
	require.ErrorAs(t, err, &unserviceable)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	assert.Empty(t, order.TrackingID)
	assert.Nil(t, order.LiveShipment())
	assert.Zero(t, orderRepo.updates)
}

func TestAutoCreateResumesAtAWBStep(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", CourierOptionID: "51", CourierName: "Ecom Express", CreatedAt: time.Now()},
	}
	sr := &fakeAdapter{
		name:      "shiprocket",
		awbResult: &carrier.AWBResult{AWB: "AWB456", CourierName: "Ecom Express"},
	}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.AutoCreate(context.Background(), order))

	assert.Zero(t, sr.createCalls, "an existing shipment must not be recreated")
	assert.Equal(t, 1, sr.awbCalls)
	assert.Equal(t, "AWB456", order.TrackingID)
	assert.Equal(t, domain.OrderStatusShipped, order.Status)
}

func TestAutoCreateSkipsShippedOrder(t *testing.T) {
	order := newTestOrder(domain.OrderStatusShipped)
	order.TrackingID = "AWB123"
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", AWB: "AWB123", CreatedAt: time.Now()},
	}
	sr := &fakeAdapter{name: "shiprocket"}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.AutoCreate(context.Background(), order))
	assert.Zero(t, sr.createCalls)
	assert.Zero(t, sr.awbCalls)
}

func TestAutoCreateOnlinePendingShipsAsCOD(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	order.PaymentMode = domain.PaymentModeOnline
	order.PaymentStatus = domain.PaymentStatusPending
	order.Total = 1800

	sr := &fakeAdapter{
		name:                  "shiprocket",
		serviceabilityOptions: []carrier.CourierOption{surfaceOption()},
		createResult:          &carrier.ShipmentResult{ShipmentID: "9001"},
		awbResult:             &carrier.AWBResult{AWB: "AWB123"},
	}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.AutoCreate(context.Background(), order))
	assert.Equal(t, 1800.0, sr.lastCreateReq.CODAmount,
		"unverified online payment must fall back to collecting on delivery")
}

func TestAutoCreatePickupFailureStillShips(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	sr := &fakeAdapter{
		name:                  "shiprocket",
		serviceabilityOptions: []carrier.CourierOption{surfaceOption()},
		createResult:          &carrier.ShipmentResult{ShipmentID: "9001"},
		awbResult:             &carrier.AWBResult{AWB: "AWB123"},
		pickupErr:             &errors.ErrNetwork{Carrier: "shiprocket", Op: "generate pickup"},
	}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.AutoCreate(context.Background(), order))
	assert.Equal(t, domain.OrderStatusShipped, order.Status)
}

func TestCreateIsIdempotent(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	sr := &fakeAdapter{
		name:         "shiprocket",
		createResult: &carrier.ShipmentResult{ShipmentID: "9001"},
	}
	svc, _, _ := newShipmentFixture(order, sr)

	sub1, err := svc.Create(context.Background(), order, "shiprocket", "51")
	require.NoError(t, err)

	sub2, err := svc.Create(context.Background(), order, "shiprocket", "51")
	require.NoError(t, err)

	assert.Same(t, sub1, sub2)
	assert.Equal(t, 1, sr.createCalls)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status, "create alone must not ship the order")
}

func TestGenerateAWBAlreadyAssigned(t *testing.T) {
	order := newTestOrder(domain.OrderStatusShipped)
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", AWB: "AWB123", CreatedAt: time.Now()},
	}
	sr := &fakeAdapter{name: "shiprocket"}
	svc, _, _ := newShipmentFixture(order, sr)

	sub, err := svc.GenerateAWB(context.Background(), order)

	var already *errors.ErrAlreadyAssigned
	require.ErrorAs(t, err, &already)
	require.NotNil(t, sub)
	assert.Equal(t, "AWB123", sub.AWB)
	assert.Zero(t, sr.awbCalls)
}

func TestCancelShipmentSoftInvalidates(t *testing.T) {
	order := newTestOrder(domain.OrderStatusShipped)
	order.TrackingID = "AWB123"
	order.CourierName = "Ecom Express"
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", AWB: "AWB123", CreatedAt: time.Now()},
	}
	sr := &fakeAdapter{name: "shiprocket"}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.CancelShipment(context.Background(), order))

	assert.Empty(t, order.TrackingID)
	assert.Empty(t, order.CourierName)
	assert.Nil(t, order.LiveShipment())

	// Sub-record is kept for audit
	sub := order.Shipment("shiprocket")
	require.NotNil(t, sub)
	assert.NotNil(t, sub.CancelledAt)
	assert.Equal(t, domain.OrderStatusShipped, order.Status, "order status is a separate concern")
}

func TestCancelOrderCancelsLiveShipment(t *testing.T) {
	order := newTestOrder(domain.OrderStatusShipped)
	order.TrackingID = "AWB123"
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", AWB: "AWB123", CreatedAt: time.Now()},
	}
	sr := &fakeAdapter{name: "shiprocket"}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.CancelOrder(context.Background(), order, "Customer request"))

	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Empty(t, order.TrackingID)
	assert.NotNil(t, order.Shipment("shiprocket").CancelledAt)
}

func TestCancelOrderBlockedByDeliveredShipment(t *testing.T) {
	order := newTestOrder(domain.OrderStatusShipped)
	order.TrackingID = "AWB123"
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", AWB: "AWB123", CreatedAt: time.Now()},
	}
	sr := &fakeAdapter{name: "shiprocket", cancelErr: &errors.ErrNotCancellable{TrackingID: "AWB123"}}
	svc, _, _ := newShipmentFixture(order, sr)

	err := svc.CancelOrder(context.Background(), order, "")

	var notCancellable *errors.ErrNotCancellable
	require.ErrorAs(t, err, &notCancellable)
	assert.Equal(t, domain.OrderStatusShipped, order.Status)
}

func TestCancelOrderProceedsPastCarrierOutage(t *testing.T) {
	order := newTestOrder(domain.OrderStatusConfirmed)
	order.TrackingID = "AWB123"
	order.Shipments = map[string]*domain.CarrierShipment{
		"shiprocket": {Carrier: "shiprocket", ShipmentID: "9001", AWB: "AWB123", CreatedAt: time.Now()},
	}
	sr := &fakeAdapter{name: "shiprocket", cancelErr: &errors.ErrNetwork{Carrier: "shiprocket", Op: "cancel"}}
	svc, _, _ := newShipmentFixture(order, sr)

	require.NoError(t, svc.CancelOrder(context.Background(), order, ""))
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.NotNil(t, order.Shipment("shiprocket").CancelledAt)
}

func TestManualEntryShipsOrder(t *testing.T) {
	order := newTestOrder(domain.OrderStatusConfirmed)
	svc, _, _ := newShipmentFixture(order)

	require.NoError(t, svc.ManualEntry(context.Background(), order, "India Post", "RG123456789IN"))

	assert.Equal(t, domain.OrderStatusShipped, order.Status)
	assert.Equal(t, "RG123456789IN", order.TrackingID)
	assert.Equal(t, "India Post", order.CourierName)
	assert.Nil(t, order.LiveShipment(), "manual entry keeps no carrier sub-record")
}

func TestManualEntryAfterCarrierSwitch(t *testing.T) {
	// Already Shipped via a carrier, admin re-ships manually after cancelling
	// the carrier shipment
	order := newTestOrder(domain.OrderStatusShipped)
	svc, _, _ := newShipmentFixture(order)

	require.NoError(t, svc.ManualEntry(context.Background(), order, "India Post", "RG123456789IN"))
	assert.Equal(t, "RG123456789IN", order.TrackingID)
}

func TestEstimateSingleCarrier(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	sr := &fakeAdapter{name: "shiprocket", serviceabilityOptions: []carrier.CourierOption{surfaceOption()}}
	dl := &fakeAdapter{name: "delhivery", serviceabilityErr: &errors.ErrServiceUnavailable{Carrier: "delhivery", Pincode: "400001"}}
	svc, _, _ := newShipmentFixture(order, sr, dl)

	quotes, err := svc.Estimate(context.Background(), order, "shiprocket")
	require.NoError(t, err)
	require.Contains(t, quotes, "shiprocket")
	assert.Len(t, quotes["shiprocket"], 1)

	_, err = svc.Estimate(context.Background(), order, "delhivery")
	var unserviceable *errors.ErrServiceUnavailable
	assert.ErrorAs(t, err, &unserviceable)
}

func TestEstimateAllCarriersSkipsFailures(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	sr := &fakeAdapter{name: "shiprocket", serviceabilityOptions: []carrier.CourierOption{surfaceOption()}}
	dl := &fakeAdapter{name: "delhivery", serviceabilityErr: &errors.ErrNetwork{Carrier: "delhivery", Op: "serviceability"}}
	svc, _, _ := newShipmentFixture(order, sr, dl)

	quotes, err := svc.Estimate(context.Background(), order, "")
	require.NoError(t, err)
	assert.Contains(t, quotes, "shiprocket")
	assert.NotContains(t, quotes, "delhivery")
}

func TestSuggestionNamesAlternates(t *testing.T) {
	order := newTestOrder(domain.OrderStatusProcessing)
	sr := &fakeAdapter{name: "shiprocket"}
	dl := &fakeAdapter{name: "delhivery"}
	svc, _, _ := newShipmentFixture(order, sr, dl)

	suggestion := svc.Suggestion("shiprocket")
	assert.Contains(t, suggestion, "delhivery")
	assert.Contains(t, suggestion, "Manual Entry")
	assert.NotContains(t, suggestion, "shiprocket")
}
