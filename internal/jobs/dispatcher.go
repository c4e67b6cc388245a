package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/internal/tenant"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
)

// Dispatcher runs deferred work off the webhook request path: opt-out
// propagation fanout, activity writes, stat recalculation triggers. Webhook
// handlers must answer the provider fast, everything slow goes through here.
type Dispatcher struct {
	pool   *ants.Pool
	logger *zap.Logger
}

// NewDispatcher builds the shared background worker pool.
func NewDispatcher(cfg config.JobsPoolConfig, log *zap.Logger) (*Dispatcher, error) {
	pool, err := ants.NewPool(cfg.PoolSize,
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			observer.JobsPanicsTotal.Inc()
			log.Error("Job panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	return &Dispatcher{pool: pool, logger: log.Named("jobs")}, nil
}

// Submit schedules a named job. The job gets a fresh context carrying the
// caller's request id so log lines stay correlated across the handoff.
func (d *Dispatcher) Submit(ctx context.Context, name string, job func(ctx context.Context)) error {
	jobCtx := context.Background()
	if requestID, err := tenant.FromRequestIDContext(ctx); err == nil && requestID != "" {
		jobCtx = tenant.WithRequestID(jobCtx, requestID)
	}

	err := d.pool.Submit(func() {
		start := time.Now()
		observer.JobsWorkersActive.Inc()
		defer observer.JobsWorkersActive.Dec()

		job(jobCtx)

		logger.FromContext(jobCtx).Debug("Job finished",
			zap.String("job", name),
			zap.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		d.logger.Error("Failed to submit job", zap.String("job", name), zap.Error(err))
		return fmt.Errorf("failed to submit job %s: %w", name, err)
	}

	observer.JobsSubmittedTotal.WithLabelValues(name).Inc()
	observer.JobsQueueLength.Set(float64(d.pool.Waiting()))
	return nil
}

// Release drains and shuts down the pool.
func (d *Dispatcher) Release() {
	d.pool.Release()
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
