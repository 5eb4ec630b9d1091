package trigger

import (
	"encoding/json"
	"strings"

	"github.com/dukex/flowpoint/pkg/models"
	"github.com/dukex/flowpoint/pkg/nodes"
	"github.com/dukex/flowpoint/pkg/protocol"
)

// Payload keys delivered by the channel webhook receiver.
const (
	ChannelField      = "channel"
	ResponseBodyField = "body"
)

// ChannelResponseConfig defines which inbound channel responses start a run.
type ChannelResponseConfig struct {
	Channel  string   `json:"channel"`
	Keywords []string `json:"keywords"`
}

// ChannelResponseTrigger matches replies received on a delivery channel, such
// as an SMS answer to a survey invitation.
type ChannelResponseTrigger struct {
	id       string
	channel  string
	keywords []string
}

// NewChannelResponseTrigger creates a channel response trigger from raw config.
func NewChannelResponseTrigger(id string, raw json.RawMessage) (*ChannelResponseTrigger, error) {
	var config ChannelResponseConfig
	if err := nodes.Decode(raw, &config); err != nil {
		return nil, err
	}

	keywords := make([]string, 0, len(config.Keywords))

	for _, k := range config.Keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &ChannelResponseTrigger{id: id, channel: config.Channel, keywords: keywords}, nil
}

func (t *ChannelResponseTrigger) Matches(event models.IncomingEvent) bool {
	if event.TriggerType != models.TriggerTypeWebhook {
		return false
	}

	if t.channel != "" {
		channel, _ := event.Payload[ChannelField].(string)
		if !strings.EqualFold(channel, t.channel) {
			return false
		}
	}

	if len(t.keywords) == 0 {
		return true
	}

	body, _ := event.Payload[ResponseBodyField].(string)
	body = strings.ToLower(body)

	for _, k := range t.keywords {
		if strings.Contains(body, k) {
			return true
		}
	}

	return false
}

// ChannelResponseTriggerFactory creates ChannelResponseTrigger instances.
type ChannelResponseTriggerFactory struct{}

// NewChannelResponseTriggerFactory creates a new channel response trigger factory.
func NewChannelResponseTriggerFactory() protocol.TriggerFactory {
	return &ChannelResponseTriggerFactory{}
}

func (f *ChannelResponseTriggerFactory) Create(id string, config json.RawMessage) (protocol.Trigger, error) {
	return NewChannelResponseTrigger(id, config)
}

func (f *ChannelResponseTriggerFactory) Kind() models.NodeKind { return models.NodeKindTrigger }

func (f *ChannelResponseTriggerFactory) TriggerType() models.TriggerType {
	return models.TriggerTypeWebhook
}

func (f *ChannelResponseTriggerFactory) ID() string { return "channel_response" }

func (f *ChannelResponseTriggerFactory) Name() string { return "Channel Response" }

func (f *ChannelResponseTriggerFactory) Description() string {
	return "Starts the workflow when a contact replies on a delivery channel"
}

func (f *ChannelResponseTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type": map[string]any{"const": "channel_response"},
			"channel": map[string]any{
				"type":        "string",
				"description": "Delivery channel the reply arrived on; empty matches any channel",
				"examples":    []string{"sms", "email", "voice"},
			},
			"keywords": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Case-insensitive keywords; the reply body must contain at least one",
			},
		},
		"required": []string{"type"},
	}
}
