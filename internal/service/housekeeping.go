package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/pkg/jobs"
	applog "github.com/noah-isme/studyplan-api/pkg/logger"
)

// HousekeepingJobType is the queue job that expires stale reschedule state.
const HousekeepingJobType = "reschedule.housekeeping"

type proposalSweeper interface {
	Sweep(ctx context.Context) (int, int64, error)
}

type sessionPurger interface {
	Purge() int
}

// Housekeeper drops expired proposals and wizard sessions and closes elapsed
// rollback windows.
type Housekeeper struct {
	reschedule proposalSweeper
	wizard     sessionPurger
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewHousekeeper constructs a Housekeeper.
func NewHousekeeper(reschedule proposalSweeper, wizard sessionPurger, metrics *MetricsService, logger *zap.Logger) *Housekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Housekeeper{reschedule: reschedule, wizard: wizard, metrics: metrics, logger: logger}
}

// Handle runs one sweep. It satisfies jobs.Handler.
func (h *Housekeeper) Handle(ctx context.Context, job jobs.Job) error {
	sessions := 0
	if h.wizard != nil {
		sessions = h.wizard.Purge()
		h.metrics.RecordSweep("wizard_sessions", sessions)
	}
	proposals, logs, err := h.reschedule.Sweep(ctx)
	if err != nil {
		return err
	}
	if sessions+proposals > 0 || logs > 0 {
		applog.FromContext(ctx, h.logger).Info("reschedule housekeeping",
			zap.String("job_id", job.ID),
			zap.Int("wizard_sessions", sessions),
			zap.Int("proposals", proposals),
			zap.Int64("expired_logs", logs),
		)
	}
	return nil
}
