// Package dispatcher turns matched events into execution records and runs them
// on a bounded pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowpoint/pkg/dedup"
	"github.com/dukex/flowpoint/pkg/engine"
	"github.com/dukex/flowpoint/pkg/matcher"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/otelhelper"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrQueueFull        = errors.New("dispatch queue is full")
	ErrNoMatch          = errors.New("event does not start the workflow")
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	ErrNotRunningHere   = errors.New("execution is not running on this dispatcher")
)

const (
	DefaultWorkers    = 8
	DefaultQueueSize  = 64
	DefaultRunTimeout = 5 * time.Minute
)

type Config struct {
	Workers    int
	QueueSize  int
	RunTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}

	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}

	return c
}

// DefinitionMatcher applies the matching rule to one definition; *matcher.Matcher satisfies it.
type DefinitionMatcher interface {
	MatchDefinition(def *models.WorkflowDefinition, event models.IncomingEvent) (matcher.Match, bool)
}

type DefinitionLoader interface {
	Load(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error)
}

// Executor runs one execution to its terminal state; *engine.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, run engine.Run) *models.ExecutionRecord
}

type job struct {
	run      engine.Run
	inflight *inflight
}

type inflight struct {
	tenantID   string
	workflowID string
	cancelled  chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

func (f *inflight) cancel() {
	f.cancelOnce.Do(func() { close(f.cancelled) })
}

type Dispatcher struct {
	store    DefinitionLoader
	matcher  DefinitionMatcher
	log      persistence.ExecutionLog
	dedup    dedup.Store
	executor Executor
	logger   *slog.Logger
	tracer   trace.Tracer
	config   Config

	jobs  chan job
	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running map[string]*inflight
	started bool
	closed  bool
}

func New(
	store DefinitionLoader,
	m DefinitionMatcher,
	log persistence.ExecutionLog,
	claims dedup.Store,
	executor Executor,
	config Config,
	logger *slog.Logger,
) *Dispatcher {
	config = config.withDefaults()

	return &Dispatcher{
		store:    store,
		matcher:  m,
		log:      log,
		dedup:    claims,
		executor: executor,
		logger:   logger.With("module", "dispatcher"),
		tracer:   otel.Tracer("flowpoint/dispatcher"),
		config:   config,
		jobs:     make(chan job, config.QueueSize),
		slots:    make(chan struct{}, config.QueueSize),
		running:  make(map[string]*inflight),
	}
}

// Start launches the workers. Runs keep the values of ctx but not its
// cancellation; they are stopped through Cancel and Shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.closed {
		return
	}

	d.started = true
	base := context.WithoutCancel(ctx)

	for i := range d.config.Workers {
		d.wg.Add(1)

		go d.worker(base, i)
	}

	d.logger.Info("Dispatcher started", "workers", d.config.Workers, "queue_size", d.config.QueueSize)
}

// Enqueue loads the workflow, re-applies the matching rule to pin the version
// and dispatches the run. It returns without waiting for the run. A redelivered
// event returns its existing execution id even when the workflow no longer
// matches or the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, tenantID, workflowID string, event models.IncomingEvent) (string, error) {
	if d.isClosed() {
		return "", ErrDispatcherClosed
	}

	id, found, err := d.existing(ctx, tenantID, workflowID, event.DedupKey)
	if err != nil || found {
		return id, err
	}

	def, err := d.store.Load(ctx, tenantID, workflowID)
	if err != nil {
		return "", err
	}

	match, ok := d.matcher.MatchDefinition(def, event)
	if !ok {
		return "", ErrNoMatch
	}

	return d.dispatch(ctx, match, event)
}

// Dispatch creates the running record of an already pinned match and queues
// it. A dedup key that was already claimed returns the existing execution id.
func (d *Dispatcher) Dispatch(ctx context.Context, match matcher.Match, event models.IncomingEvent) (string, error) {
	if d.isClosed() {
		return "", ErrDispatcherClosed
	}

	id, found, err := d.existing(ctx, match.Definition.TenantID, match.Definition.ID, event.DedupKey)
	if err != nil || found {
		return id, err
	}

	return d.dispatch(ctx, match, event)
}

// existing resolves a dedup key to the execution already started for it,
// first through the claims and then through the log.
func (d *Dispatcher) existing(ctx context.Context, tenantID, workflowID, dedupKey string) (string, bool, error) {
	if dedupKey == "" {
		return "", false, nil
	}

	bound, found, err := d.dedup.Lookup(ctx, models.IdempotencyKey(tenantID, workflowID, dedupKey))
	if err != nil {
		return "", false, fmt.Errorf("failed to look up dedup key: %w", err)
	}

	if !found {
		record, getErr := d.log.GetByDedupKey(ctx, tenantID, workflowID, dedupKey)

		switch {
		case persistence.IsExecutionNotFound(getErr):
			return "", false, nil
		case getErr != nil:
			return "", false, fmt.Errorf("failed to load existing execution: %w", getErr)
		}

		bound = record.ID
	}

	d.logger.InfoContext(ctx, "Duplicate event, returning existing execution",
		"tenant_id", tenantID,
		"workflow_id", workflowID,
		"dedup_key", dedupKey,
		"execution_id", bound,
	)

	return bound, true, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, match matcher.Match, event models.IncomingEvent) (string, error) {
	def := match.Definition

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.TenantIDKey, def.TenantID),
		attribute.String(otelhelper.WorkflowIDKey, def.ID),
		attribute.String(otelhelper.DedupKeyKey, event.DedupKey),
	)
	defer span.End()

	if d.isClosed() {
		return "", ErrDispatcherClosed
	}

	select {
	case d.slots <- struct{}{}:
	default:
		otelhelper.SetError(span, ErrQueueFull)

		return "", ErrQueueFull
	}

	id, queued, err := d.createRecord(ctx, match, event)
	if err != nil || !queued {
		<-d.slots

		if err != nil {
			otelhelper.SetError(span, err)
		}

		return id, err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, id))

	return id, nil
}

func (d *Dispatcher) createRecord(ctx context.Context, match matcher.Match, event models.IncomingEvent) (string, bool, error) {
	def := match.Definition
	id := uuid.Must(uuid.NewV7()).String()

	dedupKey := event.DedupKey
	if dedupKey == "" {
		dedupKey = id
	}

	key := models.IdempotencyKey(def.TenantID, def.ID, dedupKey)

	bound, claimed, err := d.dedup.Claim(ctx, key, id)
	if err != nil {
		return "", false, fmt.Errorf("failed to claim dedup key: %w", err)
	}

	if !claimed {
		d.logger.InfoContext(ctx, "Duplicate event, returning existing execution",
			"tenant_id", def.TenantID,
			"workflow_id", def.ID,
			"dedup_key", dedupKey,
			"execution_id", bound,
		)

		return bound, false, nil
	}

	record := &models.ExecutionRecord{
		ID:              id,
		TenantID:        def.TenantID,
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		DedupKey:        dedupKey,
		TriggerType:     event.TriggerType,
		EntryNodeIDs:    match.EntryNodeIDs,
		TestMode:        match.Context.TestMode,
		Status:          models.ExecutionStatusRunning,
		Steps:           []models.StepResult{},
		StartedAt:       time.Now().UTC(),
	}

	err = d.log.Create(ctx, record.Clone())
	if err != nil {
		_ = d.dedup.Release(ctx, key, id)

		if !errors.Is(err, persistence.ErrExecutionAlreadyExists) {
			return "", false, fmt.Errorf("failed to create execution record: %w", err)
		}

		// the claim was lost (expired, or a store not shared with the log owner)
		existing, getErr := d.log.GetByDedupKey(ctx, def.TenantID, def.ID, dedupKey)
		if getErr != nil {
			return "", false, fmt.Errorf("failed to load existing execution: %w", getErr)
		}

		return existing.ID, false, nil
	}

	flight := &inflight{
		tenantID:   def.TenantID,
		workflowID: def.ID,
		cancelled:  make(chan struct{}),
		done:       make(chan struct{}),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.abandon(ctx, record)

		return "", false, ErrDispatcherClosed
	}

	d.running[id] = flight
	d.jobs <- job{
		run: engine.Run{
			Record:     record,
			Definition: def,
			Context:    match.Context,
			Cancelled:  flight.cancelled,
		},
		inflight: flight,
	}

	d.logger.InfoContext(ctx, "Execution queued",
		"execution_id", id,
		"tenant_id", def.TenantID,
		"workflow_id", def.ID,
		"workflow_version", def.Version,
		"test_mode", record.TestMode,
	)

	return id, true, nil
}

// abandon terminates a record that was created after the dispatcher closed.
func (d *Dispatcher) abandon(ctx context.Context, record *models.ExecutionRecord) {
	now := time.Now().UTC()
	record.Status = models.ExecutionStatusFailed
	record.Error = engine.ReasonCancelled
	record.FinishedAt = &now

	if err := d.log.Update(context.WithoutCancel(ctx), record); err != nil {
		d.logger.ErrorContext(ctx, "Failed to abandon execution", "execution_id", record.ID, "error", err)
	}
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()

	for j := range d.jobs {
		<-d.slots

		d.execute(ctx, n, j)
	}
}

func (d *Dispatcher) execute(ctx context.Context, worker int, j job) {
	id := j.run.Record.ID

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Execution panicked", "execution_id", id, "worker", worker, "panic", r)
			j.run.Record.Error = fmt.Sprintf("internal error: %v", r)
			d.abandonPanicked(ctx, j.run.Record)
		}

		d.mu.Lock()
		delete(d.running, id)
		d.mu.Unlock()

		close(j.inflight.done)
	}()

	runCtx, cancel := context.WithTimeout(ctx, d.config.RunTimeout)
	defer cancel()

	d.executor.Execute(runCtx, j.run)
}

func (d *Dispatcher) abandonPanicked(ctx context.Context, record *models.ExecutionRecord) {
	now := time.Now().UTC()
	record.Status = models.ExecutionStatusFailed
	record.FinishedAt = &now

	if err := d.log.Update(ctx, record.Clone()); err != nil && !errors.Is(err, persistence.ErrRecordTerminal) {
		d.logger.Error("Failed to fail panicked execution", "execution_id", record.ID, "error", err)
	}
}

// Cancel requests cooperative cancellation of a queued or running execution.
func (d *Dispatcher) Cancel(ctx context.Context, executionID string) error {
	d.mu.Lock()
	flight, ok := d.running[executionID]
	d.mu.Unlock()

	if ok {
		flight.cancel()
		d.logger.InfoContext(ctx, "Execution cancellation requested", "execution_id", executionID)

		return nil
	}

	record, err := d.log.Get(ctx, executionID)
	if err != nil {
		return err
	}

	if record.Status.Terminal() {
		return persistence.NewExecutionError("cancel", executionID, persistence.ErrRecordTerminal)
	}

	return ErrNotRunningHere
}

// CancelWorkflow cancels every in-flight execution of the workflow and
// returns how many were cancelled.
func (d *Dispatcher) CancelWorkflow(ctx context.Context, tenantID, workflowID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0

	for _, flight := range d.running {
		if flight.tenantID == tenantID && flight.workflowID == workflowID {
			flight.cancel()
			count++
		}
	}

	if count > 0 {
		d.logger.InfoContext(ctx, "Workflow executions cancelled",
			"tenant_id", tenantID,
			"workflow_id", workflowID,
			"count", count,
		)
	}

	return count
}

// Result reads the current record of an execution.
func (d *Dispatcher) Result(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	return d.log.Get(ctx, executionID)
}

// Wait blocks until an execution dispatched here has finished and returns its
// record. Executions not in flight are read from the log directly.
func (d *Dispatcher) Wait(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	d.mu.Lock()
	flight, ok := d.running[executionID]
	d.mu.Unlock()

	if ok {
		select {
		case <-flight.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return d.log.Get(ctx, executionID)
}

// InFlight returns the number of queued and running executions.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.running)
}

// Shutdown stops accepting new work and drains queued and running
// executions. When ctx ends first the remaining executions are cancelled and
// Shutdown waits for them to stop.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return nil
	}

	d.closed = true
	close(d.jobs)

	if !d.started {
		// nobody will drain the queue
		for j := range d.jobs {
			<-d.slots
			delete(d.running, j.run.Record.ID)
			d.abandon(ctx, j.run.Record)
			close(j.inflight.done)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher drained")

		return nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	for _, flight := range d.running {
		flight.cancel()
	}
	d.mu.Unlock()

	<-done

	d.logger.Warn("Dispatcher shutdown cancelled in-flight executions")

	return ctx.Err()
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}
