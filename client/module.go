package client

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/actorbridge/config"
	"github.com/webitel/actorbridge/store"
)

// Module assembles the dialing role: the Client itself plus the cron
// janitor that expires checkpoints and reaps provisional stream entries.
var Module = fx.Module("client",
	fx.Provide(NewFromConfig),
	fx.Invoke(Run),
)

// NewFromConfig builds a Client from the loaded configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(cfg.Client,
		WithLogger(logger),
		WithCheckpointMaxAge(cfg.Stream.CheckpointMaxAge),
	)
}

// Run connects on start, wires the checkpoint sweep to the janitor, and
// tears the client down on stop.
func Run(lc fx.Lifecycle, cfg *config.Config, c *Client, logger *slog.Logger) error {
	janitor := store.NewJanitor(logger)
	grace := cfg.Stream.ProvisionalGrace
	if err := janitor.Add("checkpoint-sweep", cfg.Stream.SweepSchedule, func() {
		c.SweepCheckpoints(grace)
	}); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Connect(ctx); err != nil {
				return err
			}
			janitor.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			janitor.Stop()
			return c.Close()
		},
	})
	return nil
}
