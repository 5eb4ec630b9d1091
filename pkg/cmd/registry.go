// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/registry"
)

const webhookTimeout = 10 * time.Second

// NewRegistry registers the built-in node types. Notifications and record
// requests are delivered over the bus.
func NewRegistry(logger *slog.Logger, publisher eventbus.EventPublisher) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterDefaultNodes(registry.Dependencies{
		Logger:     logger,
		Notifier:   eventbus.NewNotifier(publisher),
		Records:    eventbus.NewRecordCreator(publisher),
		HTTPClient: &http.Client{Timeout: webhookTimeout},
	})

	return reg
}
