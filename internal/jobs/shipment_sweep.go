package jobs

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/naturemedica/fulfillment-api/internal/repository"
	"github.com/naturemedica/fulfillment-api/internal/service"
	"github.com/naturemedica/fulfillment-api/pkg/errors"
)

const sweepBatchSize = 50

// ShipmentSweepJob periodically retries automatic shipment creation for
// Processing orders that still have no tracking assignment, picking up orders
// whose booking failed at intake.
type ShipmentSweepJob struct {
	repos     *repository.Repositories
	shipments *service.ShipmentService
	interval  time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
}

func NewShipmentSweepJob(repos *repository.Repositories, shipments *service.ShipmentService, interval time.Duration, logger *zap.Logger) *ShipmentSweepJob {
	return &ShipmentSweepJob{
		repos:     repos,
		shipments: shipments,
		interval:  interval,
		cron:      cron.New(),
		logger:    logger.With(zap.String("component", "shipment_sweep")),
	}
}

// Start schedules the sweep. Sweep failures are logged and retried on the next
// tick, never fatal.
func (j *ShipmentSweepJob) Start() error {
	_, err := j.cron.AddFunc("@every "+j.interval.String(), j.run)
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("shipment sweep started", zap.Duration("interval", j.interval))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish
func (j *ShipmentSweepJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("shipment sweep stopped")
}

func (j *ShipmentSweepJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	orders, err := j.repos.Order.ListProcessingUnshipped(ctx, sweepBatchSize)
	if err != nil {
		j.logger.Error("sweep listing failed", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	j.logger.Info("retrying unshipped orders", zap.Int("count", len(orders)))

	for _, order := range orders {
		if err := j.shipments.AutoCreate(ctx, order); err != nil {
			// Conflicts mean another path shipped the order first, which is
			// the outcome the sweep wanted anyway.
			var conflict *errors.ErrConflict
			if stderrors.As(err, &conflict) {
				continue
			}
			j.logger.Warn("sweep retry failed",
				zap.String("order", order.OrderNumber),
				zap.Error(err))
		}
	}
}
