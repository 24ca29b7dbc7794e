package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber builds the human-readable order identifier shown to
// customers, distinct from the storage id
func NewOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("NM-%s-%s", at.Format("20060102"), suffix)
}

// Order is the root fulfillment entity. The financial snapshot is immutable
// once created except by explicit admin correction.
type Order struct {
	ID          uuid.UUID
	OrderNumber string
	Items       []OrderItem
	Customer    CustomerInfo
	Subtotal    float64
	Discount    float64
	Total       float64

	PaymentMode   PaymentMode
	PaymentStatus PaymentStatus
	PaymentRefs   map[string]string // gateway name -> opaque correlation id

	// AdvanceAmount is the portion collected online for partial-COD orders
	AdvanceAmount float64

	Status OrderStatus

	// Canonical tracking pair for whichever carrier is currently active.
	// Manual entry writes these directly, bypassing the adapters.
	TrackingID  string
	CourierName string

	// One sub-record per carrier ever attempted, keyed by carrier name.
	// Cancelled sub-records are kept for audit.
	Shipments map[string]*CarrierShipment

	StatusHistory []StatusEntry

	WeightKg  float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is a line in the order's financial snapshot
type OrderItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Title     string    `json:"title"`
	Variant   string    `json:"variant,omitempty"`
	Quantity  int       `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
}

// CustomerInfo is the shipping snapshot captured at checkout
type CustomerInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

// CarrierShipment is the per-carrier shipment sub-record. Owned exclusively by
// its order; soft-invalidated on cancellation, never deleted.
type CarrierShipment struct {
	Carrier         string     `json:"carrier"`
	ShipmentID      string     `json:"shipment_id"`
	AWB             string     `json:"awb,omitempty"`
	CourierOptionID string     `json:"courier_option_id,omitempty"`
	CourierName     string     `json:"courier_name,omitempty"`
	LabelURL        string     `json:"label_url,omitempty"`
	ManifestURL     string     `json:"manifest_url,omitempty"`
	CarrierStatus   string     `json:"carrier_status,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Live reports whether this sub-record is the active shipment attempt
func (s *CarrierShipment) Live() bool {
	return s != nil && s.CancelledAt == nil
}

// StatusEntry is one append-only audit trail record
type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
}

// LiveShipment returns the active carrier sub-record, or nil when no carrier
// attempt is live.
func (o *Order) LiveShipment() *CarrierShipment {
	for _, s := range o.Shipments {
		if s.Live() {
			return s
		}
	}
	return nil
}

// Shipment returns the sub-record for a carrier regardless of liveness
func (o *Order) Shipment(carrier string) *CarrierShipment {
	if o.Shipments == nil {
		return nil
	}
	return o.Shipments[carrier]
}

// AppendStatus records a transition on the audit trail and moves the canonical
// status. Guards live in the order service; this only mutates.
func (o *Order) AppendStatus(status OrderStatus, at time.Time, note string) {
	o.StatusHistory = append(o.StatusHistory, StatusEntry{
		Status:    status,
		Timestamp: at,
		Note:      note,
	})
	o.Status = status
}

// CODAmount is the amount the carrier collects on delivery. Zero for fully
// prepaid orders.
func (o *Order) CODAmount() float64 {
	switch o.PaymentMode {
	case PaymentModeCOD:
		return o.Total
	case PaymentModePartialCOD:
		// Advance is collected online, the remainder on delivery.
		return o.Total - o.AdvanceAmount
	default:
		return 0
	}
}

// Product carries the stock counter adjusted on cancellation
type Product struct {
	ID        uuid.UUID
	Title     string
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Staff represents an admin user authenticated by API key
type Staff struct {
	ID         uuid.UUID
	Name       string
	APIKeyHash string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
