package registry

import (
	"log/slog"
	"time"

	"github.com/dukex/flowpoint/pkg/nodes/action"
	"github.com/dukex/flowpoint/pkg/nodes/condition"
	"github.com/dukex/flowpoint/pkg/nodes/trigger"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// Dependencies are the collaborators handed to the built-in action handlers.
type Dependencies struct {
	Logger     *slog.Logger
	Notifier   protocol.Notifier
	Records    protocol.RecordCreator
	HTTPClient protocol.HTTPDoer

	// Now is the clock of time_window conditions; nil uses time.Now.
	Now func() time.Time
}

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes(deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = r.logger
	}

	// Triggers
	r.RegisterTrigger(trigger.NewManualTriggerFactory())
	r.RegisterTrigger(trigger.NewDomainEventTriggerFactory())
	r.RegisterTrigger(trigger.NewMetricThresholdTriggerFactory())
	r.RegisterTrigger(trigger.NewChannelResponseTriggerFactory())
	r.RegisterTrigger(trigger.NewCronTriggerFactory())

	// Conditions
	r.RegisterCondition(condition.NewCompareConditionFactory())
	r.RegisterCondition(condition.NewMetricThresholdConditionFactory())
	r.RegisterCondition(condition.NewInSetConditionFactory())
	r.RegisterCondition(condition.NewTimeWindowConditionFactory(deps.Now))
	r.RegisterCondition(condition.NewExpressionConditionFactory())
	r.RegisterCondition(condition.NewSwitchConditionFactory())

	// Actions
	r.RegisterAction(action.NewNotifyActionFactory(deps.Notifier))
	r.RegisterAction(action.NewCreateRecordActionFactory(deps.Records))
	r.RegisterAction(action.NewCallWebhookActionFactory(deps.HTTPClient))
	r.RegisterAction(action.NewLogActionFactory(logger.With("module", "log_action")))
}
