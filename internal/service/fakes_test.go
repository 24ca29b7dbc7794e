package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/naturemedica/fulfillment-api/internal/carrier"
	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/notify"
	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

// fakeOrderRepo is an in-memory OrderRepository honoring the guarded update
// contract
type fakeOrderRepo struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	updates int
}

func newFakeOrderRepo(orders ...*domain.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		r.orders[o.OrderNumber] = o
	}
	return r
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	r.orders[order.OrderNumber] = order
	return nil
}

func (r *fakeOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "order", ID: id.String()}
}

func (r *fakeOrderRepo) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderNumber]; ok {
		return o, nil
	}
	return nil, &errors.ErrNotFound{Resource: "order", ID: orderNumber}
}

func (r *fakeOrderRepo) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.TrackingID == trackingID && trackingID != "" {
			return o, nil
		}
	}
	return nil, &errors.ErrNotFound{Resource: "order", ID: trackingID}
}

func (r *fakeOrderRepo) Update(ctx context.Context, order *domain.Order, expectedStatus domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.OrderNumber]
	if !ok {
		return &errors.ErrNotFound{Resource: "order", ID: order.OrderNumber}
	}
	// The stored row may have been moved by another writer; the same pointer
	// case still checks the caller-supplied guard against the persisted status.
	if stored != order && stored.Status != expectedStatus {
		return &errors.ErrConflict{Resource: "order", ID: order.OrderNumber}
	}
	r.orders[order.OrderNumber] = order
	r.updates++
	return nil
}

func (r *fakeOrderRepo) ListByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) ListAll(ctx context.Context, limit, offset int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, nil
}

func (r *fakeOrderRepo) ListProcessingUnshipped(ctx context.Context, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderStatusProcessing && o.TrackingID == "" {
			out = append(out, o)
		}
	}
	return out, nil
}

// fakeProductRepo tracks stock counters and restock calls
type fakeProductRepo struct {
	mu          sync.Mutex
	stock       map[uuid.UUID]int
	adjustments int
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{stock: make(map[uuid.UUID]int)}
}

func (r *fakeProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.stock[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "product", ID: id.String()}
	}
	return &domain.Product{ID: id, Stock: stock}, nil
}

func (r *fakeProductRepo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[id] += delta
	r.adjustments++
	return nil
}

type fakeStaffRepo struct{}

func (fakeStaffRepo) ListActive(ctx context.Context) ([]*domain.Staff, error) { return nil, nil }
func (fakeStaffRepo) Create(ctx context.Context, staff *domain.Staff) error   { return nil }

func newFakeRepos(orderRepo *fakeOrderRepo, productRepo *fakeProductRepo) *repository.Repositories {
	return &repository.Repositories{
		Order:   orderRepo,
		Product: productRepo,
		Staff:   fakeStaffRepo{},
	}
}

// recordingNotifier collects emitted events
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) OrderStatusChanged(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

// fakeAdapter is a scriptable carrier.Adapter
type fakeAdapter struct {
	name string

	serviceabilityOptions []carrier.CourierOption
	serviceabilityErr     error
	createResult          *carrier.ShipmentResult
	createErr             error
	createCalls           int
	lastCreateReq         carrier.ShipmentRequest
	awbResult             *carrier.AWBResult
	awbErr                error
	awbCalls              int
	pickupErr             error
	trackInfo             *carrier.TrackingInfo
	trackErr              error
	cancelErr             error
	labelURL              string
	manifestURL           string
	statusMap             map[string]domain.OrderStatus
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) CheckServiceability(ctx context.Context, q carrier.ServiceabilityQuery) ([]carrier.CourierOption, error) {
	if a.serviceabilityErr != nil {
		return nil, a.serviceabilityErr
	}
	return a.serviceabilityOptions, nil
}

func (a *fakeAdapter) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResult, error) {
	a.createCalls++
	a.lastCreateReq = req
	if a.createErr != nil {
		return nil, a.createErr
	}
	return a.createResult, nil
}

func (a *fakeAdapter) GenerateAWB(ctx context.Context, shipmentID, courierOptionID string) (*carrier.AWBResult, error) {
	a.awbCalls++
	if a.awbErr != nil {
		return nil, a.awbErr
	}
	return a.awbResult, nil
}

func (a *fakeAdapter) SchedulePickup(ctx context.Context, shipmentID string) error {
	return a.pickupErr
}

func (a *fakeAdapter) Track(ctx context.Context, trackingID string) (*carrier.TrackingInfo, error) {
	if a.trackErr != nil {
		return nil, a.trackErr
	}
	return a.trackInfo, nil
}

func (a *fakeAdapter) Cancel(ctx context.Context, trackingID string) error {
	return a.cancelErr
}

func (a *fakeAdapter) Label(ctx context.Context, shipmentID string) (string, error) {
	return a.labelURL, nil
}

func (a *fakeAdapter) Manifest(ctx context.Context, shipmentID string) (string, error) {
	return a.manifestURL, nil
}

func (a *fakeAdapter) MapStatus(raw string) (domain.OrderStatus, bool) {
	mapped, ok := a.statusMap[raw]
	return mapped, ok
}
