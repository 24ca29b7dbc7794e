package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

type orderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) *orderRepository {
	return &orderRepository{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `
	id, order_number, items, customer, subtotal, discount, total,
	payment_mode, payment_status, payment_refs, advance_amount,
	order_status, tracking_id, courier_name, shipments, status_history,
	weight_kg, created_at, updated_at
`

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	now := time.Now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	items, customer, refs, shipments, history, err := marshalOrderJSON(order)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = r.db.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		items,
		customer,
		order.Subtotal,
		order.Discount,
		order.Total,
		order.PaymentMode,
		order.PaymentStatus,
		refs,
		order.AdvanceAmount,
		order.Status,
		nullString(order.TrackingID),
		nullString(order.CourierName),
		shipments,
		history,
		order.WeightKg,
		order.CreatedAt,
		order.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create order", zap.Error(err))
		return err
	}

	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.scanOne(ctx, query, id.String(), id)
}

func (r *orderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	return r.scanOne(ctx, query, orderNumber, orderNumber)
}

func (r *orderRepository) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tracking_id = $1`
	return r.scanOne(ctx, query, trackingID, trackingID)
}

func (r *orderRepository) scanOne(ctx context.Context, query, lookupID string, arg interface{}) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, query, arg)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "order", ID: lookupID}
	}
	if err != nil {
		r.logger.Error("Failed to get order", zap.String("lookup", lookupID), zap.Error(err))
		return nil, err
	}
	return order, nil
}

// Update writes the mutable fulfillment state guarded by the status the
// caller read. Zero rows affected means a concurrent writer won.
func (r *orderRepository) Update(ctx context.Context, order *domain.Order, expectedStatus domain.OrderStatus) error {
	order.UpdatedAt = time.Now()

	_, _, refs, shipments, history, err := marshalOrderJSON(order)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders
		SET payment_status = $3, payment_refs = $4, order_status = $5,
			tracking_id = $6, courier_name = $7, shipments = $8,
			status_history = $9, updated_at = $10
		WHERE id = $1 AND order_status = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		order.ID,
		expectedStatus,
		order.PaymentStatus,
		refs,
		order.Status,
		nullString(order.TrackingID),
		nullString(order.CourierName),
		shipments,
		history,
		order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update order", zap.String("order", order.OrderNumber), zap.Error(err))
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &errors.ErrConflict{Resource: "order", ID: order.OrderNumber}
	}

	return nil
}

func (r *orderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit, offset int) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE order_status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.scanMany(ctx, query, status, limit, offset)
}

func (r *orderRepository) ListAll(ctx context.Context, limit, offset int) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.scanMany(ctx, query, limit, offset)
}

func (r *orderRepository) ListProcessingUnshipped(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE order_status = $1 AND (tracking_id IS NULL OR tracking_id = '')
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.scanMany(ctx, query, domain.OrderStatusProcessing, limit)
}

func (r *orderRepository) scanMany(ctx context.Context, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			r.logger.Error("Failed to scan order row", zap.Error(err))
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var items, customer, refs, shipments, history []byte
	var trackingID, courierName sql.NullString

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&items,
		&customer,
		&order.Subtotal,
		&order.Discount,
		&order.Total,
		&order.PaymentMode,
		&order.PaymentStatus,
		&refs,
		&order.AdvanceAmount,
		&order.Status,
		&trackingID,
		&courierName,
		&shipments,
		&history,
		&order.WeightKg,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if trackingID.Valid {
		order.TrackingID = trackingID.String
	}
	if courierName.Valid {
		order.CourierName = courierName.String
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(customer, &order.Customer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer: %w", err)
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &order.PaymentRefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment refs: %w", err)
		}
	}
	if len(shipments) > 0 {
		if err := json.Unmarshal(shipments, &order.Shipments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shipments: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &order.StatusHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status history: %w", err)
		}
	}

	return &order, nil
}

func marshalOrderJSON(order *domain.Order) (items, customer, refs, shipments, history []byte, err error) {
	if items, err = json.Marshal(order.Items); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal order items: %w", err)
	}
	if customer, err = json.Marshal(order.Customer); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal customer: %w", err)
	}
	if refs, err = json.Marshal(order.PaymentRefs); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal payment refs: %w", err)
	}
	if shipments, err = json.Marshal(order.Shipments); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal shipments: %w", err)
	}
	if history, err = json.Marshal(order.StatusHistory); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to marshal status history: %w", err)
	}
	return items, customer, refs, shipments, history, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
