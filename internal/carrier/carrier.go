package carrier

import (
	"context"

	"github.com/naturemedica/fulfillment-api/internal/domain"
)

// Adapter is the uniform capability set every integrated carrier exposes.
// Carrier-specific auth, field names and response shapes stay inside the
// implementations; nothing past this boundary sees raw carrier JSON.
type Adapter interface {
	Name() string

	// CheckServiceability returns the courier options available for a lane.
	// A served lane with no options returns an empty slice, not an error;
	// an unserved destination returns ErrServiceUnavailable.
	CheckServiceability(ctx context.Context, q ServiceabilityQuery) ([]CourierOption, error)

	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)
	GenerateAWB(ctx context.Context, shipmentID, courierOptionID string) (*AWBResult, error)

	// SchedulePickup is best effort: orchestration treats failure here as
	// non-fatal and never rolls back the created shipment.
	SchedulePickup(ctx context.Context, shipmentID string) error

	Track(ctx context.Context, trackingID string) (*TrackingInfo, error)
	Cancel(ctx context.Context, trackingID string) error
	Label(ctx context.Context, shipmentID string) (string, error)
	Manifest(ctx context.Context, shipmentID string) (string, error)

	// MapStatus translates the carrier's status vocabulary into the internal
	// order status. The boolean is false for vocabulary with no internal
	// meaning (intermediate scans etc.).
	MapStatus(raw string) (domain.OrderStatus, bool)
}

// ServiceabilityQuery describes a lane to quote
type ServiceabilityQuery struct {
	OriginPincode      string
	DestinationPincode string
	WeightKg           float64
	IsCOD              bool
}

// CourierOption is one quoted shipping choice
type CourierOption struct {
	ID            string
	Name          string
	TotalCharge   float64
	EstimatedDays int
	Surface       bool
}

// ShipmentRequest is the generic order snapshot adapters translate into their
// carrier's create payload
type ShipmentRequest struct {
	OrderNumber     string
	Customer        domain.CustomerInfo
	Items           []domain.OrderItem
	Subtotal        float64
	WeightKg        float64
	CODAmount       float64 // 0 means prepaid
	PickupLocation  string
	PickupPincode   string
	CourierOptionID string
}

// ShipmentResult identifies a shipment created at the carrier
type ShipmentResult struct {
	ShipmentID string
	AWB        string
	LabelURL   string
}

// AWBResult is the tracking assignment for a created shipment
type AWBResult struct {
	AWB         string
	CourierName string
}

// TrackingInfo is a normalized tracking snapshot. RawStatus keeps the
// carrier's own wording for display and audit.
type TrackingInfo struct {
	RawStatus string
	Events    []TrackingEvent
}

type TrackingEvent struct {
	Status   string
	Location string
	Time     string
}
