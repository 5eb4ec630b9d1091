package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/flowpoint/pkg/dedup"
	"github.com/dukex/flowpoint/pkg/dispatcher"
	"github.com/dukex/flowpoint/pkg/engine"
	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/matcher"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/dukex/flowpoint/pkg/registry"
	"github.com/dukex/flowpoint/pkg/services"
)

// RuntimeConfig tunes the engine and the dispatcher.
type RuntimeConfig struct {
	Engine     engine.Config
	Dispatcher dispatcher.Config
}

// Runtime is the wired automation core shared by the API and the worker.
type Runtime struct {
	Persistence persistence.Persistence
	Registry    *registry.Registry
	Matcher     *matcher.Matcher
	Dispatcher  *dispatcher.Dispatcher
	Workflows   *services.Workflow
	Executions  *services.Execution
}

// NewRuntime wires matcher, engine, dispatcher and services on top of the
// given stores. Lifecycle events are published on bus.
func NewRuntime(
	p persistence.Persistence,
	claims dedup.Store,
	bus eventbus.EventPublisher,
	config RuntimeConfig,
	logger *slog.Logger,
) *Runtime {
	reg := NewRegistry(logger, bus)
	m := matcher.New(p.GraphStore(), reg, logger)

	exec := engine.New(reg, p.ExecutionLog(), config.Engine, logger, engine.WithPublisher(bus))
	d := dispatcher.New(p.GraphStore(), m, p.ExecutionLog(), claims, exec, config.Dispatcher, logger)

	return &Runtime{
		Persistence: p,
		Registry:    reg,
		Matcher:     m,
		Dispatcher:  d,
		Workflows:   services.NewWorkflow(p, reg, d, logger, services.WithLifecyclePublisher(bus)),
		Executions:  services.NewExecution(p.ExecutionLog(), m, d, logger),
	}
}

// Start launches the dispatcher workers.
func (r *Runtime) Start(ctx context.Context) {
	r.Dispatcher.Start(ctx)
}

// Shutdown drains the dispatcher; runs still going when ctx expires are cancelled.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.Dispatcher.Shutdown(ctx)
}
