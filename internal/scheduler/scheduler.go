// Package scheduler runs the periodic mediation and recovery jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/replystack/commerce-bot/internal/mediator"
	"github.com/replystack/commerce-bot/internal/tenant"
	"github.com/replystack/commerce-bot/pkg/logger"
	"github.com/replystack/commerce-bot/pkg/metrics"
)

const jobRetries = 3

// Scheduler owns the cron instance driving the pipeline. Jobs are chained
// with SkipIfStillRunning so an overrunning sweep coalesces with the next
// tick instead of stacking up.
type Scheduler struct {
	cron        *cron.Cron
	mediator    *mediator.Mediator
	tenants     tenant.Provider
	logger      *logger.Logger
	batchWindow time.Duration
}

// Options tunes job cadence.
type Options struct {
	SweepInterval    time.Duration
	RecoveryInterval time.Duration
	BatchWindow      time.Duration
}

// New creates the scheduler and registers the sweep and recovery jobs.
func New(m *mediator.Mediator, tenants tenant.Provider, log *logger.Logger, opts Options) (*Scheduler, error) {
	cronLog := &cronLogger{logger: log}
	c := cron.New(
		cron.WithChain(
			cron.SkipIfStillRunning(cronLog),
			cron.Recover(cronLog),
		),
	)

	s := &Scheduler{
		cron:        c,
		mediator:    m,
		tenants:     tenants,
		logger:      log,
		batchWindow: opts.BatchWindow,
	}

	if _, err := c.AddFunc(everySpec(opts.SweepInterval), s.sweep); err != nil {
		return nil, fmt.Errorf("failed to register sweep job: %w", err)
	}
	if _, err := c.AddFunc(everySpec(opts.RecoveryInterval), s.recover); err != nil {
		return nil, fmt.Errorf("failed to register recovery job: %w", err)
	}
	return s, nil
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// Start begins job execution.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

// sweep mediates every active tenant's eligible conversations. The cutoff
// is the sweep start minus the batch window, so only conversations whose
// users have gone quiet get processed.
func (s *Scheduler) sweep() {
	start := time.Now()
	cutoff := start.Add(-s.batchWindow)
	ctx := context.Background()

	for _, tenantID := range s.tenants.ActiveTenants() {
		err := s.withRetry(func() error {
			return s.mediator.ProcessTenant(ctx, tenantID, cutoff)
		})
		if err != nil {
			s.logger.Error("tenant sweep failed after retries",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
	}

	metrics.SweepDuration.WithLabelValues("mediation").Observe(time.Since(start).Seconds())
}

// recover re-arms failed conversations and reclaims stale leases for every
// active tenant.
func (s *Scheduler) recover() {
	start := time.Now()
	ctx := context.Background()

	for _, tenantID := range s.tenants.ActiveTenants() {
		var recovered int
		err := s.withRetry(func() error {
			n, err := s.mediator.RecoverFailed(ctx, tenantID)
			recovered = n
			return err
		})
		if err != nil {
			s.logger.Error("recovery job failed after retries",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			continue
		}
		if recovered > 0 {
			s.logger.Info("recovered failed conversations",
				zap.String("tenant_id", tenantID),
				zap.Int("count", recovered),
			)
		}
	}

	metrics.SweepDuration.WithLabelValues("recovery").Observe(time.Since(start).Seconds())
}

func (s *Scheduler) withRetry(op func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), jobRetries)
	return backoff.Retry(op, policy)
}

// cronLogger adapts zap to cron's logging interface.
type cronLogger struct {
	logger *logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
