package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowpoint/pkg/cmd"
	"github.com/dukex/flowpoint/pkg/eventbus"
	"github.com/dukex/flowpoint/pkg/log"
	"github.com/dukex/flowpoint/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.BoolFlag{
			Name:    "scheduler",
			Usage:   "Emit the scheduled trigger ticks from this worker",
			Value:   true,
			Sources: cli.EnvVars("SCHEDULER_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "schedule",
			Usage:   "Cron expression of the scheduler tick",
			Value:   scheduler.EveryMinute,
			Sources: cli.EnvVars("SCHEDULE"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.RuntimeFlags()...)

	command := &cli.Command{
		Name:                  "flowpoint-worker",
		EnableShellCompletion: true,
		Usage:                 "Consume inbound events and run the matching workflows",
		Flags:                 flags,
		Action:                run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.SetupWithFormat(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	logger := log.WithModule("worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing Flowpoint worker")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := cmd.OpenStack(ctx, command, "flowpoint-worker", logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = stack.Close(context.WithoutCancel(ctx))
	}()

	var ticker Ticker

	if command.Bool("scheduler") {
		// Ticks go through the bus so that any worker may run them.
		ticker = scheduler.New(
			stack.Persistence.GraphStore(),
			eventbus.NewEventForwarder(stack.EventBus),
			logger,
			scheduler.WithSchedule(command.String("schedule")),
		)
	}

	worker := NewWorkerManager(
		workerID,
		stack.EventBus,
		stack.Runtime.Executions,
		stack.Runtime,
		stack.Runtime.Dispatcher,
		ticker,
		logger,
	)

	return worker.Start(ctx)
}
