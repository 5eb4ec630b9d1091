package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowpoint/pkg/dedup"
	"github.com/dukex/flowpoint/pkg/engine"
	"github.com/dukex/flowpoint/pkg/matcher"
	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/dukex/flowpoint/pkg/persistence/file"
	"github.com/dukex/flowpoint/pkg/protocol"
	"github.com/dukex/flowpoint/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gate blocks every Execute until it is opened and reports each start.
type gate struct {
	started chan string
	open    chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan string, 16), open: make(chan struct{})}
}

func (g *gate) release() {
	g.once.Do(func() { close(g.open) })
}

func (g *gate) Execute(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	g.started <- req.IdempotencyToken
	<-g.open

	return map[string]any{"released": true}, nil
}

func (g *gate) Simulate(_ context.Context, req protocol.ActionRequest) (map[string]any, error) {
	return map[string]any{"would": req.NodeID}, nil
}

type handlers struct {
	*registry.Registry

	gate *gate
}

func (h *handlers) Action(node models.Node) (protocol.Action, error) {
	if node.HandlerType() == "gate" {
		return h.gate, nil
	}

	return h.Registry.Action(node)
}

type fixture struct {
	dispatcher *Dispatcher
	store      persistence.GraphStore
	log        persistence.ExecutionLog
	gate       *gate
	root       string
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	root := t.TempDir()
	p := file.NewPersistence(root)

	return newFixtureOn(t, p, dedup.NewMemoryStore(), newGate(), config, root)
}

func newFixtureOn(t *testing.T, p persistence.Persistence, claims dedup.Store, g *gate, config Config, root string) *fixture {
	t.Helper()

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterDefaultNodes(registry.Dependencies{})

	exec := engine.New(&handlers{Registry: reg, gate: g}, p.ExecutionLog(), engine.Config{
		StepTimeout:    5 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, slog.Default())

	d := New(
		p.GraphStore(),
		matcher.New(p.GraphStore(), reg, slog.Default()),
		p.ExecutionLog(),
		claims,
		exec,
		config,
		slog.Default(),
	)
	d.Start(t.Context())

	t.Cleanup(func() {
		g.release()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = d.Shutdown(ctx)
	})

	return &fixture{dispatcher: d, store: p.GraphStore(), log: p.ExecutionLog(), gate: g, root: root}
}

func node(id string, kind models.NodeKind, config string) models.Node {
	return models.Node{ID: id, Kind: kind, Config: json.RawMessage(config)}
}

func (f *fixture) save(t *testing.T, status models.WorkflowStatus, action string) *models.WorkflowDefinition {
	t.Helper()

	def, err := f.store.Save(t.Context(), &models.WorkflowDefinition{
		TenantID:    "acme",
		Name:        "Recorded attendance",
		Status:      status,
		TriggerType: models.TriggerTypeEvent,
		Mode:        models.WorkflowModeAdvanced,
		Nodes: []models.Node{
			node("t", models.NodeKindTrigger, `{"type":"domain_event","event_name":"attendance.recorded"}`),
			node("a", models.NodeKindAction, action),
			node("b", models.NodeKindAction, `{"type":"log","message":"after"}`),
		},
		Edges: []models.Edge{{ID: "e1", From: "t", To: "a"}, {ID: "e2", From: "a", To: "b"}},
	})
	require.NoError(t, err)

	return def
}

func event(dedupKey string) models.IncomingEvent {
	return models.IncomingEvent{
		TenantID:    "acme",
		TriggerType: models.TriggerTypeEvent,
		DedupKey:    dedupKey,
		Payload:     map[string]any{"event_name": "attendance.recorded"},
	}
}

func (f *fixture) count(t *testing.T, workflowID string) int64 {
	t.Helper()

	page, err := f.log.List(t.Context(), persistence.ExecutionQuery{TenantID: "acme", WorkflowID: workflowID})
	require.NoError(t, err)

	return page.TotalCount
}

func (f *fixture) waitStarted(t *testing.T) string {
	t.Helper()

	select {
	case token := <-f.gate.started:
		return token
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not start")

		return ""
	}
}

func TestDispatcher_EnqueueRunsToCompletion(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)

	id, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := f.dispatcher.Wait(t.Context(), id)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSucceeded, rec.Status)
	assert.Equal(t, def.Version, rec.WorkflowVersion)
	assert.Equal(t, []string{"t"}, rec.EntryNodeIDs)
	assert.Len(t, rec.Steps, 2)
	assert.Zero(t, f.dispatcher.InFlight())

	result, err := f.dispatcher.Result(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, rec.Status, result.Status)
}

func TestDispatcher_DuplicateEventReturnsSameExecution(t *testing.T) {
	f := newFixture(t, Config{})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)

	first, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)

	_, err = f.dispatcher.Wait(t.Context(), first)
	require.NoError(t, err)

	second, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), f.count(t, def.ID))
}

func TestDispatcher_LostClaimFallsBackToLog(t *testing.T) {
	root := t.TempDir()
	p := file.NewPersistence(root)

	// two dispatchers sharing the log but not the dedup store
	a := newFixtureOn(t, p, dedup.NewMemoryStore(), newGate(), Config{}, root)
	b := newFixtureOn(t, p, dedup.NewMemoryStore(), newGate(), Config{}, root)

	def := a.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)

	first, err := a.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)

	second, err := b.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), a.count(t, def.ID))
}

func TestDispatcher_NoMatchCreatesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	def := f.save(t, models.WorkflowStatusPaused, `{"type":"log","message":"recorded"}`)

	_, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.ErrorIs(t, err, ErrNoMatch)

	active := f.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)

	wrong := event("evt-2")
	wrong.Payload["event_name"] = "grade.recorded"

	_, err = f.dispatcher.Enqueue(t.Context(), "acme", active.ID, wrong)
	require.ErrorIs(t, err, ErrNoMatch)

	_, err = f.dispatcher.Enqueue(t.Context(), "acme", "missing", event("evt-3"))
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	assert.Zero(t, f.count(t, ""))
}

func TestDispatcher_FullQueueRejectsWithoutRecord(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, QueueSize: 1})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"gate"}`)

	running, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)
	f.waitStarted(t)

	queued, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-2"))
	require.NoError(t, err)

	_, err = f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-3"))
	require.ErrorIs(t, err, ErrQueueFull)

	assert.Equal(t, int64(2), f.count(t, def.ID))

	f.gate.release()

	for _, id := range []string{running, queued} {
		rec, err := f.dispatcher.Wait(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusSucceeded, rec.Status)
	}

	// the rejected event can be retried once there is room
	retried, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-3"))
	require.NoError(t, err)
	assert.NotEqual(t, queued, retried)
}

func TestDispatcher_DuplicateEventWithFullQueueReturnsSameExecution(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, QueueSize: 1})
	quick := f.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)
	slow := f.save(t, models.WorkflowStatusActive, `{"type":"gate"}`)

	first, err := f.dispatcher.Enqueue(t.Context(), "acme", quick.ID, event("evt-1"))
	require.NoError(t, err)

	_, err = f.dispatcher.Wait(t.Context(), first)
	require.NoError(t, err)

	_, err = f.dispatcher.Enqueue(t.Context(), "acme", slow.ID, event("evt-2"))
	require.NoError(t, err)
	f.waitStarted(t)

	_, err = f.dispatcher.Enqueue(t.Context(), "acme", slow.ID, event("evt-3"))
	require.NoError(t, err)

	_, err = f.dispatcher.Enqueue(t.Context(), "acme", slow.ID, event("evt-4"))
	require.ErrorIs(t, err, ErrQueueFull)

	again, err := f.dispatcher.Enqueue(t.Context(), "acme", quick.ID, event("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int64(1), f.count(t, quick.ID))
}

func TestDispatcher_DuplicateEventAfterPauseReturnsSameExecution(t *testing.T) {
	f := newFixture(t, Config{})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)

	first, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)

	_, err = f.dispatcher.Wait(t.Context(), first)
	require.NoError(t, err)

	def.Status = models.WorkflowStatusPaused
	_, err = f.store.Save(t.Context(), def)
	require.NoError(t, err)

	again, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// a new event is still refused
	_, err = f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-2"))
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestDispatcher_LostClaimWithFullQueueFallsBackToLog(t *testing.T) {
	root := t.TempDir()
	p := file.NewPersistence(root)

	a := newFixtureOn(t, p, dedup.NewMemoryStore(), newGate(), Config{}, root)
	b := newFixtureOn(t, p, dedup.NewMemoryStore(), newGate(), Config{Workers: 1, QueueSize: 1}, root)

	quick := a.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)
	slow := a.save(t, models.WorkflowStatusActive, `{"type":"gate"}`)

	first, err := a.dispatcher.Enqueue(t.Context(), "acme", quick.ID, event("evt-1"))
	require.NoError(t, err)

	_, err = a.dispatcher.Wait(t.Context(), first)
	require.NoError(t, err)

	_, err = b.dispatcher.Enqueue(t.Context(), "acme", slow.ID, event("evt-2"))
	require.NoError(t, err)
	b.waitStarted(t)

	_, err = b.dispatcher.Enqueue(t.Context(), "acme", slow.ID, event("evt-3"))
	require.NoError(t, err)

	again, err := b.dispatcher.Enqueue(t.Context(), "acme", quick.ID, event("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestDispatcher_CancelSkipsRemainingSteps(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"gate"}`)

	id, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)

	token := f.waitStarted(t)
	assert.Equal(t, id+":a", token)

	require.NoError(t, f.dispatcher.Cancel(t.Context(), id))
	f.gate.release()

	rec, err := f.dispatcher.Wait(t.Context(), id)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, rec.Status)
	assert.Equal(t, engine.ReasonCancelled, rec.Error)

	a, _ := rec.Step("a")
	assert.Equal(t, models.StepStatusSucceeded, a.Status)

	b, _ := rec.Step("b")
	assert.Equal(t, models.StepStatusSkipped, b.Status)

	err = f.dispatcher.Cancel(t.Context(), id)
	require.ErrorIs(t, err, persistence.ErrRecordTerminal)

	err = f.dispatcher.Cancel(t.Context(), "missing")
	require.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestDispatcher_CancelWorkflow(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, QueueSize: 4})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"gate"}`)
	other := f.save(t, models.WorkflowStatusActive, `{"type":"log","message":"x"}`)

	first, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)
	f.waitStarted(t)

	second, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-2"))
	require.NoError(t, err)

	untouched, err := f.dispatcher.Enqueue(t.Context(), "acme", other.ID, event("evt-3"))
	require.NoError(t, err)

	assert.Equal(t, 2, f.dispatcher.CancelWorkflow(t.Context(), "acme", def.ID))
	assert.Zero(t, f.dispatcher.CancelWorkflow(t.Context(), "globex", def.ID))

	f.gate.release()

	for _, id := range []string{first, second} {
		rec, err := f.dispatcher.Wait(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, engine.ReasonCancelled, rec.Error)
	}

	rec, err := f.dispatcher.Wait(t.Context(), untouched)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.Status)

	// a queued run that never started has every reachable step skipped
	queued, err := f.dispatcher.Result(t.Context(), second)
	require.NoError(t, err)

	a, _ := queued.Step("a")
	assert.Equal(t, models.StepStatusSkipped, a.Status)
}

func TestDispatcher_ShutdownDrainsAndRejects(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"log","message":"recorded"}`)

	id, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Shutdown(t.Context()))

	rec, err := f.dispatcher.Result(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, rec.Status.Terminal())

	_, err = f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-2"))
	require.ErrorIs(t, err, ErrDispatcherClosed)

	require.NoError(t, f.dispatcher.Shutdown(t.Context()))
}

func TestDispatcher_ShutdownDeadlineCancelsRuns(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	def := f.save(t, models.WorkflowStatusActive, `{"type":"gate"}`)

	id, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, event("evt-1"))
	require.NoError(t, err)
	f.waitStarted(t)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	go func() {
		<-ctx.Done()
		f.gate.release()
	}()

	err = f.dispatcher.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	rec, err := f.dispatcher.Result(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.ReasonCancelled, rec.Error)
}

func TestDispatcher_ManualTestOnDraft(t *testing.T) {
	f := newFixture(t, Config{})
	def := f.save(t, models.WorkflowStatusDraft, `{"type":"gate"}`)

	id, err := f.dispatcher.Enqueue(t.Context(), "acme", def.ID, models.IncomingEvent{
		TenantID:    "acme",
		TriggerType: models.TriggerTypeManual,
		DedupKey:    "test-1",
		WorkflowID:  def.ID,
	})
	require.NoError(t, err)

	rec, err := f.dispatcher.Wait(t.Context(), id)
	require.NoError(t, err)

	assert.True(t, rec.TestMode)
	assert.Equal(t, models.ExecutionStatusSucceeded, rec.Status)

	a, _ := rec.Step("a")
	assert.True(t, a.Simulated)
	assert.Empty(t, f.gate.started)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultQueueSize, cfg.QueueSize)
	assert.Equal(t, DefaultRunTimeout, cfg.RunTimeout)
}
