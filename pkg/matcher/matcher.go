// Package matcher finds the workflow definitions an incoming event starts.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/persistence"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// ErrWorkflowRequired is returned for manual tests that do not name a workflow.
var ErrWorkflowRequired = errors.New("manual test requires a workflow id")

// TriggerBuilder builds trigger handlers; *registry.Registry satisfies it.
type TriggerBuilder interface {
	Trigger(node models.Node) (protocol.Trigger, error)
}

// DefinitionLoader is the read side of the graph store used for matching.
type DefinitionLoader interface {
	Load(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error)
	LoadActiveByTriggerType(ctx context.Context, tenantID string, triggerType models.TriggerType) ([]*models.WorkflowDefinition, error)
}

// Match is one definition started by an event. All trigger nodes of the
// definition that matched are entry nodes of the same run.
type Match struct {
	Definition   *models.WorkflowDefinition
	EntryNodeIDs []string
	Context      *models.ExecutionContext
}

type Matcher struct {
	store    DefinitionLoader
	triggers TriggerBuilder
	logger   *slog.Logger
}

func New(store DefinitionLoader, triggers TriggerBuilder, logger *slog.Logger) *Matcher {
	return &Matcher{
		store:    store,
		triggers: triggers,
		logger:   logger.With("module", "matcher"),
	}
}

// Match returns every definition of the event's tenant the event starts.
// Manual tests load the named workflow whatever its status; other events only
// consider active definitions of the event's trigger type.
func (m *Matcher) Match(ctx context.Context, event models.IncomingEvent) ([]Match, error) {
	candidates, err := m.candidates(ctx, event)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))

	for _, def := range candidates {
		if match, ok := m.MatchDefinition(def, event); ok {
			matches = append(matches, match)
		}
	}

	m.logger.DebugContext(ctx, "Matched event",
		"tenant_id", event.TenantID,
		"trigger_type", event.TriggerType,
		"dedup_key", event.DedupKey,
		"candidates", len(candidates),
		"matches", len(matches),
	)

	return matches, nil
}

func (m *Matcher) candidates(ctx context.Context, event models.IncomingEvent) ([]*models.WorkflowDefinition, error) {
	if event.IsManualTest() && event.WorkflowID == "" {
		return nil, ErrWorkflowRequired
	}

	if event.WorkflowID == "" {
		defs, err := m.store.LoadActiveByTriggerType(ctx, event.TenantID, event.TriggerType)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate workflows: %w", err)
		}

		return defs, nil
	}

	def, err := m.store.Load(ctx, event.TenantID, event.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) && !event.IsManualTest() {
			return nil, nil
		}

		return nil, err
	}

	return []*models.WorkflowDefinition{def}, nil
}

// MatchDefinition applies the matching rule to a single definition.
func (m *Matcher) MatchDefinition(def *models.WorkflowDefinition, event models.IncomingEvent) (Match, bool) {
	if def == nil || def.TenantID != event.TenantID {
		return Match{}, false
	}

	testMode := event.IsManualTest()

	if !testMode && (def.Status != models.WorkflowStatusActive || def.TriggerType != event.TriggerType) {
		return Match{}, false
	}

	var entries []string

	for _, node := range def.TriggerNodes() {
		if testMode {
			entries = append(entries, node.ID)

			continue
		}

		handler, err := m.triggers.Trigger(node)
		if err != nil {
			m.logger.Warn("Skipping trigger that cannot be built",
				"workflow_id", def.ID,
				"node_id", node.ID,
				"error", err,
			)

			continue
		}

		if handler.Matches(event) {
			entries = append(entries, node.ID)
		}
	}

	if len(entries) == 0 {
		return Match{}, false
	}

	return Match{
		Definition:   def,
		EntryNodeIDs: entries,
		Context:      models.NewExecutionContext(def.ID, event, testMode),
	}, true
}
