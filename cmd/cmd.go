// Package cmd is the actorbridge command-line entrypoint: a server command
// hosting actors, a dial command for manual smoke-testing against a running
// server, and a status dashboard.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/actorbridge/config"
)

const ServiceName = "actorbridge"

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Distributed-actor RPC runtime",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			dialCmd(),
			statusCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Host actors and accept inbound connections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.BoolFlag{
				Name:  "demo",
				Usage: "Register the demo echo and counter actors",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, v, err := config.Load(c.String("config_file"), nil)
			if err != nil {
				return err
			}
			app := NewServerApp(cfg, c.Bool("demo"))

			if err := app.Start(c.Context); err != nil {
				return err
			}

			watchCtx, cancelWatch := context.WithCancel(context.Background())
			go config.Watch(watchCtx, v, slog.Default(), func(r config.Reloadable) {
				slog.Info("CONFIG_APPLIED", slog.String("log_level", r.LogLevel))
			})

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			cancelWatch()
			return app.Stop(context.Background())
		},
	}
}
