package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowpoint/pkg/cmd"
	"github.com/dukex/flowpoint/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.RuntimeFlags()...)

	command := &cli.Command{
		Name:                  "flowpoint-api",
		Usage:                 "Manage tenant workflows and accept their events",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.SetupWithFormat(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Flowpoint API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stack, err := cmd.OpenStack(ctx, command, "flowpoint-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				_ = stack.Close(context.WithoutCancel(ctx))
			}()

			api := NewAPI(logger, stack.Runtime)

			err = api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "API server stopped with error", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
