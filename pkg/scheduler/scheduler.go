// Package scheduler provides the clock that drives scheduled workflows.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes/trigger"
	"github.com/robfig/cron/v3"
)

// EveryMinute is the default tick schedule. Cron triggers are evaluated at
// minute granularity so a finer schedule only produces duplicate ticks.
const EveryMinute = "* * * * *"

// DedupPrefix prefixes the dedup key of tick events.
const DedupPrefix = "tick:"

// TenantLister lists the tenants to tick; persistence.GraphStore satisfies it.
type TenantLister interface {
	Tenants(ctx context.Context) ([]string, error)
}

// EventSink receives the tick events, either for local dispatch or for
// publishing on the bus.
type EventSink interface {
	Emit(ctx context.Context, event models.IncomingEvent) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event models.IncomingEvent) error

func (f EventSinkFunc) Emit(ctx context.Context, event models.IncomingEvent) error {
	return f(ctx, event)
}

type Scheduler struct {
	tenants  TenantLister
	sink     EventSink
	schedule string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedule overrides the tick schedule.
func WithSchedule(spec string) Option {
	return func(s *Scheduler) {
		s.schedule = spec
	}
}

func New(tenants TenantLister, sink EventSink, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tenants:  tenants,
		sink:     sink,
		schedule: EveryMinute,
		logger:   logger.With("module", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start registers the tick job and starts the cron loop. Ticks run with ctx
// until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	log := cronLogger{s.logger}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(log),
		cron.WithChain(
			cron.SkipIfStillRunning(log),
			cron.Recover(log),
		),
	)

	s.ctx = ctx

	entryID, err := c.AddFunc(s.schedule, func() {
		_ = s.Tick(s.ctx, time.Now())
	})
	if err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("Scheduler started", "schedule", s.schedule, "entry_id", entryID)

	return nil
}

// Stop stops the cron loop and waits for a running tick to return, or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.logger.Info("Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick emits one scheduled event per tenant for the minute containing now.
// The dedup key is derived from the minute, so several schedulers ticking the
// same minute start every run once. Failures for one tenant do not stop the
// others and are joined into the returned error.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	minute := now.UTC().Truncate(time.Minute)
	stamp := minute.Format(time.RFC3339)

	tenants, err := s.tenants.Tenants(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list tenants", "tick", stamp, "error", err)

		return fmt.Errorf("failed to list tenants: %w", err)
	}

	var errs []error

	for _, tenantID := range tenants {
		event := models.IncomingEvent{
			TenantID:    tenantID,
			TriggerType: models.TriggerTypeScheduled,
			DedupKey:    DedupPrefix + stamp,
			Payload:     map[string]any{trigger.TickField: stamp},
			OccurredAt:  minute,
		}

		if err := s.sink.Emit(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "Failed to emit tick", "tenant_id", tenantID, "tick", stamp, "error", err)
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}

	s.logger.DebugContext(ctx, "Tick emitted", "tick", stamp, "tenants", len(tenants), "failed", len(errs))

	return errors.Join(errs...)
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
