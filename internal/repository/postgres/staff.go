package postgres

import (
	"context"
	"time"

	"database/sql"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/domain"
)

type staffRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStaffRepository creates a new staff repository
func NewStaffRepository(db *sql.DB, logger *zap.Logger) *staffRepository {
	return &staffRepository{
		db:     db,
		logger: logger,
	}
}

// ListActive returns all active staff accounts. API keys are bcrypt hashed, so
// the auth middleware verifies the presented key against each hash.
func (r *staffRepository) ListActive(ctx context.Context) ([]*domain.Staff, error) {
	query := `
		SELECT id, name, api_key_hash, is_active, created_at, updated_at
		FROM staff
		WHERE is_active = true
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query staff", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var staff []*domain.Staff
	for rows.Next() {
		var s domain.Staff
		if err := rows.Scan(&s.ID, &s.Name, &s.APIKeyHash, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			continue
		}
		staff = append(staff, &s)
	}

	return staff, rows.Err()
}

func (r *staffRepository) Create(ctx context.Context, staff *domain.Staff) error {
	query := `
		INSERT INTO staff (id, name, api_key_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now()
	if staff.ID == uuid.Nil {
		staff.ID = uuid.New()
	}
	if staff.CreatedAt.IsZero() {
		staff.CreatedAt = now
	}
	if staff.UpdatedAt.IsZero() {
		staff.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, query,
		staff.ID,
		staff.Name,
		staff.APIKeyHash,
		staff.IsActive,
		staff.CreatedAt,
		staff.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create staff", zap.Error(err))
		return err
	}

	return nil
}
