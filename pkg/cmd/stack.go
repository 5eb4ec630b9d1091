package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowpoint/pkg/dedup"
	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/otelhelper"
	"github.com/dukex/flowpoint/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

// Stack owns the external resources of a running binary.
type Stack struct {
	Persistence persistence.Persistence
	EventBus    *eventbus.WatermillEventBus
	Claims      dedup.Store
	Runtime     *Runtime

	logger        *slog.Logger
	traceShutdown func(context.Context) error
}

// OpenStack connects storage, event bus and dedup claims from the CommonFlags
// and RuntimeFlags values and wires a Runtime on top. The dispatcher is not
// started.
func OpenStack(ctx context.Context, command *cli.Command, serviceName string, logger *slog.Logger) (*Stack, error) {
	s := &Stack{logger: logger}

	if command.Bool("otel-enabled") {
		_, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}

		s.traceShutdown = shutdown
	}

	p, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, errors.Join(err, s.Close(ctx))
	}

	s.Persistence = p

	bus, err := NewEventBus(EventBusConfigFromCommand(command, serviceName), logger)
	if err != nil {
		return nil, errors.Join(err, s.Close(ctx))
	}

	s.EventBus = bus

	claims, err := NewDedupStore(ctx, logger, command.String("redis-url"), command.Duration("dedup-ttl"))
	if err != nil {
		return nil, errors.Join(err, s.Close(ctx))
	}

	s.Claims = claims
	s.Runtime = NewRuntime(p, claims, bus, RuntimeConfigFromCommand(command), logger)

	return s, nil
}

// Close releases everything OpenStack acquired, in reverse order.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error

	if s.Claims != nil {
		if err := s.Claims.Close(); err != nil {
			s.logger.ErrorContext(ctx, "Failed to close dedup store", "error", err)
			errs = append(errs, err)
		}
	}

	if s.EventBus != nil {
		if err := s.EventBus.Close(); err != nil {
			s.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			errs = append(errs, err)
		}
	}

	if s.Persistence != nil {
		if err := s.Persistence.Close(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
			errs = append(errs, err)
		}
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
