package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/carrier"
	"github.com/naturemedica/fulfillment-api/internal/config"
	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

// ShipmentService orchestrates shipment creation across the integrated
// carriers: quote, create, AWB assignment, pickup scheduling, and the
// write-back of carrier identifiers onto the order.
type ShipmentService struct {
	repos    *repository.Repositories
	orders   *OrderService
	adapters map[string]carrier.Adapter
	cfg      config.ShippingConfig
	logger   *zap.Logger
}

// NewShipmentService creates a new shipment service. Adapter iteration order
// for auto-selection follows the order adapters were passed in.
func NewShipmentService(repos *repository.Repositories, orders *OrderService, adapters []carrier.Adapter, cfg config.ShippingConfig, logger *zap.Logger) *ShipmentService {
	byName := make(map[string]carrier.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &ShipmentService{
		repos:    repos,
		orders:   orders,
		adapters: byName,
		cfg:      cfg,
		logger:   logger,
	}
}

// Adapter resolves a carrier by name
func (s *ShipmentService) Adapter(name string) (carrier.Adapter, error) {
	a, ok := s.adapters[name]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "carrier", ID: name}
	}
	return a, nil
}

// codAmount decides the collectable amount for the carrier call. An online
// order whose payment never completed ships as COD; such an order should not
// normally exist, so the fallback is logged loudly.
func (s *ShipmentService) codAmount(order *domain.Order) float64 {
	if order.PaymentMode == domain.PaymentModeOnline {
		if order.PaymentStatus == domain.PaymentStatusPending {
			s.logger.Warn("online order with pending payment shipping as COD",
				zap.String("order", order.OrderNumber),
				zap.String("payment_status", string(order.PaymentStatus)))
			return order.Total
		}
		return 0
	}
	return order.CODAmount()
}

// Estimate quotes serviceability for one carrier, or for every carrier when
// carrierName is empty
func (s *ShipmentService) Estimate(ctx context.Context, order *domain.Order, carrierName string) (map[string][]carrier.CourierOption, error) {
	query := carrier.ServiceabilityQuery{
		OriginPincode:      s.cfg.PickupPincode,
		DestinationPincode: order.Customer.Pincode,
		WeightKg:           order.WeightKg,
		IsCOD:              s.codAmount(order) > 0,
	}

	quotes := make(map[string][]carrier.CourierOption)
	if carrierName != "" {
		a, err := s.Adapter(carrierName)
		if err != nil {
			return nil, err
		}
		options, err := a.CheckServiceability(ctx, query)
		if err != nil {
			return nil, err
		}
		quotes[carrierName] = options
		return quotes, nil
	}

	for name, a := range s.adapters {
		options, err := a.CheckServiceability(ctx, query)
		if err != nil {
			s.logger.Warn("serviceability check failed",
				zap.String("carrier", name),
				zap.String("order", order.OrderNumber),
				zap.Error(err))
			continue
		}
		quotes[name] = options
	}
	return quotes, nil
}

// selection is a chosen carrier plus courier option
type selection struct {
	adapter carrier.Adapter
	option  carrier.CourierOption
}

// selectCarrier picks the cheapest surface option from the default carrier,
// or across all carriers when auto-selection is enabled
func (s *ShipmentService) selectCarrier(ctx context.Context, order *domain.Order, isCOD bool) (*selection, error) {
	query := carrier.ServiceabilityQuery{
		OriginPincode:      s.cfg.PickupPincode,
		DestinationPincode: order.Customer.Pincode,
		WeightKg:           order.WeightKg,
		IsCOD:              isCOD,
	}

	candidates := []carrier.Adapter{}
	if s.cfg.AutoSelectCheapest {
		for _, a := range s.adapters {
			candidates = append(candidates, a)
		}
	} else {
		a, err := s.Adapter(s.cfg.DefaultCarrier)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, a)
	}

	var best *selection
	var lastErr error
	for _, a := range candidates {
		options, err := a.CheckServiceability(ctx, query)
		if err != nil {
			lastErr = err
			if len(candidates) == 1 {
				return nil, err
			}
			s.logger.Warn("serviceability check failed during selection",
				zap.String("carrier", a.Name()),
				zap.Error(err))
			continue
		}
		for _, opt := range options {
			if !opt.Surface {
				continue
			}
			if best == nil || opt.TotalCharge < best.option.TotalCharge {
				best = &selection{adapter: a, option: opt}
			}
			break // options come back sorted by charge
		}
	}

	if best == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &errors.ErrServiceUnavailable{Carrier: s.cfg.DefaultCarrier, Pincode: order.Customer.Pincode}
	}
	return best, nil
}

// AutoCreate drives the full automatic flow for a Processing order: select a
// carrier, create the shipment, assign the AWB, schedule pickup, then move
// the order to Shipped.
//
// Failures never corrupt the order: a shipment created at the carrier is
// recorded as a sub-record immediately, and a later call resumes at AWB
// assignment instead of creating a duplicate. Until the AWB exists the order
// stays Processing and remains eligible for manual handling.
func (s *ShipmentService) AutoCreate(ctx context.Context, order *domain.Order) error {
	if live := order.LiveShipment(); live != nil {
		if live.AWB != "" {
			s.logger.Info("automatic creation skipped, live shipment exists",
				zap.String("order", order.OrderNumber),
				zap.String("carrier", live.Carrier),
				zap.String("awb", live.AWB))
			return nil
		}
		// A previous attempt created the shipment but never got an AWB.
		return s.completeShipment(ctx, order, live)
	}

	if order.Status != domain.OrderStatusProcessing && order.Status != domain.OrderStatusConfirmed {
		return &errors.ErrInvalidTransition{From: string(order.Status), To: string(domain.OrderStatusShipped)}
	}

	cod := s.codAmount(order)
	sel, err := s.selectCarrier(ctx, order, cod > 0)
	if err != nil {
		return err
	}

	req := carrier.ShipmentRequest{
		OrderNumber:     order.OrderNumber,
		Customer:        order.Customer,
		Items:           order.Items,
		Subtotal:        order.Subtotal,
		WeightKg:        order.WeightKg,
		CODAmount:       cod,
		PickupLocation:  s.cfg.PickupLocation,
		PickupPincode:   s.cfg.PickupPincode,
		CourierOptionID: sel.option.ID,
	}

	result, err := sel.adapter.CreateShipment(ctx, req)
	if err != nil {
		return err
	}

	sub := &domain.CarrierShipment{
		Carrier:         sel.adapter.Name(),
		ShipmentID:      result.ShipmentID,
		AWB:             result.AWB,
		CourierOptionID: sel.option.ID,
		CourierName:     sel.option.Name,
		LabelURL:        result.LabelURL,
		CreatedAt:       time.Now(),
	}
	if order.Shipments == nil {
		order.Shipments = make(map[string]*domain.CarrierShipment)
	}
	order.Shipments[sel.adapter.Name()] = sub

	// Persist the sub-record before the AWB step so a failure past this point
	// never loses the carrier-side shipment.
	if err := s.repos.Order.Update(ctx, order, order.Status); err != nil {
		return err
	}

	return s.completeShipment(ctx, order, sub)
}

// completeShipment finishes a created shipment: AWB, pickup, canonical
// tracking fields, Shipped transition
func (s *ShipmentService) completeShipment(ctx context.Context, order *domain.Order, sub *domain.CarrierShipment) error {
	adapter, err := s.Adapter(sub.Carrier)
	if err != nil {
		return err
	}

	if sub.AWB == "" {
		awb, err := adapter.GenerateAWB(ctx, sub.ShipmentID, sub.CourierOptionID)
		if err != nil {
			var already *errors.ErrAlreadyAssigned
			if stderrors.As(err, &already) && already.AWB != "" {
				awb = &carrier.AWBResult{AWB: already.AWB, CourierName: sub.CourierName}
			} else {
				return err
			}
		}
		sub.AWB = awb.AWB
		if awb.CourierName != "" {
			sub.CourierName = awb.CourierName
		}
	}

	if err := adapter.SchedulePickup(ctx, sub.ShipmentID); err != nil {
		// Best effort: pickup can be rescheduled from the carrier panel.
		s.logger.Warn("pickup scheduling failed",
			zap.String("order", order.OrderNumber),
			zap.String("carrier", sub.Carrier),
			zap.Error(err))
	}

	order.TrackingID = sub.AWB
	order.CourierName = sub.CourierName
	if order.CourierName == "" {
		order.CourierName = sub.Carrier
	}

	note := fmt.Sprintf("Shipped via %s (%s), AWB %s", order.CourierName, sub.Carrier, sub.AWB)
	return s.orders.Transition(ctx, order, domain.OrderStatusShipped, note, true)
}

// Create is the admin create-only step: it books the shipment at the chosen
// carrier and records the sub-record without assigning an AWB
func (s *ShipmentService) Create(ctx context.Context, order *domain.Order, carrierName, courierOptionID string) (*domain.CarrierShipment, error) {
	if live := order.LiveShipment(); live != nil {
		// Idempotence guard: creating twice returns the existing identifiers.
		return live, nil
	}

	adapter, err := s.Adapter(carrierName)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CreateShipment(ctx, carrier.ShipmentRequest{
		OrderNumber:     order.OrderNumber,
		Customer:        order.Customer,
		Items:           order.Items,
		Subtotal:        order.Subtotal,
		WeightKg:        order.WeightKg,
		CODAmount:       s.codAmount(order),
		PickupLocation:  s.cfg.PickupLocation,
		PickupPincode:   s.cfg.PickupPincode,
		CourierOptionID: courierOptionID,
	})
	if err != nil {
		return nil, err
	}

	sub := &domain.CarrierShipment{
		Carrier:         carrierName,
		ShipmentID:      result.ShipmentID,
		AWB:             result.AWB,
		CourierOptionID: courierOptionID,
		LabelURL:        result.LabelURL,
		CreatedAt:       time.Now(),
	}
	if order.Shipments == nil {
		order.Shipments = make(map[string]*domain.CarrierShipment)
	}
	order.Shipments[carrierName] = sub

	if err := s.repos.Order.Update(ctx, order, order.Status); err != nil {
		return nil, err
	}
	return sub, nil
}

// GenerateAWB assigns the AWB for the order's live shipment and moves the
// order to Shipped. A live shipment that already has an AWB is returned as
// is, the success-with-existing-data case.
func (s *ShipmentService) GenerateAWB(ctx context.Context, order *domain.Order) (*domain.CarrierShipment, error) {
	live := order.LiveShipment()
	if live == nil {
		return nil, &errors.ErrNotFound{Resource: "shipment", ID: order.OrderNumber}
	}
	if live.AWB != "" {
		return live, &errors.ErrAlreadyAssigned{AWB: live.AWB}
	}

	if err := s.completeShipment(ctx, order, live); err != nil {
		return nil, err
	}
	return live, nil
}

// CancelShipment cancels the live carrier shipment, soft-invalidates the
// sub-record and clears the canonical tracking pair. The order itself stays
// in its current status; order-level cancellation is a separate concern.
func (s *ShipmentService) CancelShipment(ctx context.Context, order *domain.Order) error {
	live := order.LiveShipment()
	if live == nil {
		return &errors.ErrNotFound{Resource: "shipment", ID: order.OrderNumber}
	}

	adapter, err := s.Adapter(live.Carrier)
	if err != nil {
		return err
	}

	trackingID := live.AWB
	if trackingID == "" {
		trackingID = live.ShipmentID
	}
	if err := adapter.Cancel(ctx, trackingID); err != nil {
		return err
	}

	now := time.Now()
	live.CancelledAt = &now
	order.TrackingID = ""
	order.CourierName = ""

	return s.repos.Order.Update(ctx, order, order.Status)
}

// CancelOrder cancels the order together with its live carrier shipment. The
// carrier-side cancel is best effort except when the carrier reports the
// parcel delivered, which blocks the cancellation outright.
func (s *ShipmentService) CancelOrder(ctx context.Context, order *domain.Order, note string) error {
	if live := order.LiveShipment(); live != nil {
		if err := s.CancelShipment(ctx, order); err != nil {
			var notCancellable *errors.ErrNotCancellable
			if stderrors.As(err, &notCancellable) {
				return err
			}
			s.logger.Warn("carrier-side cancel failed, cancelling order anyway",
				zap.String("order", order.OrderNumber),
				zap.String("carrier", live.Carrier),
				zap.Error(err))
			now := time.Now()
			live.CancelledAt = &now
			order.TrackingID = ""
			order.CourierName = ""
		}
	}
	return s.orders.CancelOrder(ctx, order, note)
}

// Track fetches the live shipment's tracking snapshot and refreshes the
// stored raw carrier status
func (s *ShipmentService) Track(ctx context.Context, order *domain.Order) (*carrier.TrackingInfo, error) {
	if order.TrackingID == "" {
		return nil, &errors.ErrNotFound{Resource: "tracking", ID: order.OrderNumber}
	}

	live := order.LiveShipment()
	if live == nil {
		// Manual entry: tracking fields exist without a sub-record, nothing
		// to ask an adapter for.
		return nil, &errors.ErrNotFound{Resource: "shipment", ID: order.OrderNumber}
	}

	adapter, err := s.Adapter(live.Carrier)
	if err != nil {
		return nil, err
	}

	info, err := adapter.Track(ctx, order.TrackingID)
	if err != nil {
		return nil, err
	}

	if info.RawStatus != "" && info.RawStatus != live.CarrierStatus {
		live.CarrierStatus = info.RawStatus
		if err := s.repos.Order.Update(ctx, order, order.Status); err != nil {
			s.logger.Warn("failed to persist refreshed carrier status",
				zap.String("order", order.OrderNumber), zap.Error(err))
		}
	}

	return info, nil
}

// Label fetches the shipping label for the live shipment
func (s *ShipmentService) Label(ctx context.Context, order *domain.Order) (string, error) {
	live := order.LiveShipment()
	if live == nil {
		return "", &errors.ErrNotFound{Resource: "shipment", ID: order.OrderNumber}
	}
	adapter, err := s.Adapter(live.Carrier)
	if err != nil {
		return "", err
	}

	url, err := adapter.Label(ctx, live.ShipmentID)
	if err != nil {
		return "", err
	}
	if url != "" && url != live.LabelURL {
		live.LabelURL = url
		if err := s.repos.Order.Update(ctx, order, order.Status); err != nil {
			s.logger.Warn("failed to persist label url",
				zap.String("order", order.OrderNumber), zap.Error(err))
		}
	}
	return url, nil
}

// Manifest fetches the manifest document for the live shipment
func (s *ShipmentService) Manifest(ctx context.Context, order *domain.Order) (string, error) {
	live := order.LiveShipment()
	if live == nil {
		return "", &errors.ErrNotFound{Resource: "shipment", ID: order.OrderNumber}
	}
	adapter, err := s.Adapter(live.Carrier)
	if err != nil {
		return "", err
	}

	url, err := adapter.Manifest(ctx, live.ShipmentID)
	if err != nil {
		return "", err
	}
	if url != "" && url != live.ManifestURL {
		live.ManifestURL = url
		if err := s.repos.Order.Update(ctx, order, order.Status); err != nil {
			s.logger.Warn("failed to persist manifest url",
				zap.String("order", order.OrderNumber), zap.Error(err))
		}
	}
	return url, nil
}

// ManualEntry writes a hand-typed tracking assignment straight onto the
// canonical fields, bypassing the adapters. The escape hatch for carriers we
// do not integrate.
func (s *ShipmentService) ManualEntry(ctx context.Context, order *domain.Order, courierName, trackingID string) error {
	order.TrackingID = trackingID
	order.CourierName = courierName

	note := fmt.Sprintf("Shipped via %s (manual entry), tracking %s", courierName, trackingID)
	return s.orders.Transition(ctx, order, domain.OrderStatusShipped, note, true)
}

// Suggestion builds the human-readable recovery hint surfaced on admin
// failures
func (s *ShipmentService) Suggestion(failedCarrier string) string {
	alternates := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		if name != failedCarrier {
			alternates = append(alternates, name)
		}
	}
	if len(alternates) == 0 {
		return "Try Manual Entry instead"
	}
	return fmt.Sprintf("Try %s or Manual Entry instead", joinOr(alternates))
}

func joinOr(names []string) string {
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	default:
		out := ""
		for i, n := range names {
			switch i {
			case 0:
				out = n
			case len(names) - 1:
				out += " or " + n
			default:
				out += ", " + n
			}
		}
		return out
	}
}
