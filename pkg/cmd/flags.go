package cmd

import (
	"time"

	"github.com/dukex/flowpoint/pkg/dispatcher"
	"github.com/dukex/flowpoint/pkg/engine"
	cli "github.com/urfave/cli/v3"
)

const defaultDedupTTL = 7 * 24 * time.Hour

// CommonFlags are the storage, transport and logging flags shared by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres:// or a file path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the shared dedup claims; in-memory claims when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "dedup-ttl",
			Usage:   "How long a dedup claim is kept",
			Value:   defaultDedupTTL,
			Sources: cli.EnvVars("DEDUP_TTL"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// RuntimeFlags tune the engine and the dispatcher.
func RuntimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of concurrent runs",
			Value:   dispatcher.DefaultWorkers,
			Sources: cli.EnvVars("WORKERS"),
		},
		&cli.IntFlag{
			Name:    "queue-size",
			Usage:   "Pending runs accepted before new events are rejected",
			Value:   dispatcher.DefaultQueueSize,
			Sources: cli.EnvVars("QUEUE_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "run-timeout",
			Usage:   "Upper bound for a whole run",
			Value:   dispatcher.DefaultRunTimeout,
			Sources: cli.EnvVars("RUN_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Upper bound for a single action attempt",
			Value:   engine.DefaultStepTimeout,
			Sources: cli.EnvVars("STEP_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Attempts per action, the first one included",
			Value:   engine.DefaultMaxAttempts,
			Sources: cli.EnvVars("MAX_ATTEMPTS"),
		},
	}
}

// RuntimeConfigFromCommand reads the RuntimeFlags values.
func RuntimeConfigFromCommand(command *cli.Command) RuntimeConfig {
	config := RuntimeConfig{
		Engine: engine.DefaultConfig(),
		Dispatcher: dispatcher.Config{
			Workers:    command.Int("workers"),
			QueueSize:  command.Int("queue-size"),
			RunTimeout: command.Duration("run-timeout"),
		},
	}

	config.Engine.StepTimeout = command.Duration("step-timeout")
	config.Engine.MaxAttempts = command.Int("max-attempts")

	return config
}

// EventBusConfigFromCommand reads the transport flags for the named service.
func EventBusConfigFromCommand(command *cli.Command, serviceName string) EventBusConfig {
	return EventBusConfig{
		Provider:    command.String("event-bus"),
		Brokers:     command.String("kafka-brokers"),
		ServiceName: serviceName,
		OtelEnabled: command.Bool("otel-enabled"),
	}
}
