package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/naturemedica/fulfillment-api/internal/domain"
)

// OrderRepository persists the order aggregate
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Order, error)

	// Update persists the order's mutable fulfillment state. expectedStatus is
	// the status the caller read before mutating; when another writer moved
	// the order first, no row matches and ErrConflict comes back so the
	// caller's transition becomes the rejected no-op.
	Update(ctx context.Context, order *domain.Order, expectedStatus domain.OrderStatus) error

	ListByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, error)
	ListAll(ctx context.Context, limit, offset int) ([]*domain.Order, error)

	// ListProcessingUnshipped returns Processing orders with no canonical
	// tracking assignment, the automatic shipment sweep's work queue.
	ListProcessingUnshipped(ctx context.Context, limit int) ([]*domain.Order, error)
}

// ProductRepository adjusts stock counters on cancellation restock
type ProductRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	AdjustStock(ctx context.Context, id uuid.UUID, delta int) error
}

// StaffRepository backs admin API-key authentication
type StaffRepository interface {
	ListActive(ctx context.Context) ([]*domain.Staff, error)
	Create(ctx context.Context, staff *domain.Staff) error
}

// Repositories bundles every repository for injection
type Repositories struct {
	Order   OrderRepository
	Product ProductRepository
	Staff   StaffRepository
}
