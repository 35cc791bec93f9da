package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/actorbridge/client"
	"github.com/webitel/actorbridge/config"
	"github.com/webitel/actorbridge/wire"
)

func dialCmd() *cli.Command {
	return &cli.Command{
		Name:  "dial",
		Usage: "Resolve a remote actor and invoke a method or subscribe to a stream",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "server host"},
			&cli.IntFlag{Name: "port", Value: 8180, Usage: "server port"},
			&cli.StringFlag{Name: "transport", Value: "ws", Usage: "ws or grpc"},
			&cli.StringFlag{Name: "actor", Required: true, Usage: "target actor name"},
			&cli.StringFlag{Name: "method", Required: true, Usage: "method identifier"},
			&cli.StringSliceFlag{Name: "arg", Usage: "argument payload (repeatable, in order)"},
			&cli.BoolFlag{Name: "subscribe", Usage: "open a stream instead of a unary call"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "unary call timeout"},
		},
		Action: runDial,
	}
}

func contextWithTimeout(c *cli.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, d)
}

func runDial(c *cli.Context) error {
	cfg := config.Client{
		Host:      c.String("host"),
		Port:      c.Int("port"),
		Transport: c.String("transport"),
		Reconnect: config.Reconnect{Enabled: true, MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2},
	}

	cl := client.New(cfg)
	defer cl.Close()
	if err := cl.Connect(c.Context); err != nil {
		return err
	}

	target := wire.Remote(c.String("actor"), cfg.Host, cfg.Port)

	if c.Bool("subscribe") {
		sub, err := cl.Subscribe(c.Context, target, c.String("method"), nil)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()

		fmt.Fprintf(os.Stderr, "subscribed to %s.%s; ctrl-c to stop\n", target, c.String("method"))
		for {
			payload, err := sub.Next(c.Context)
			if err == io.EOF {
				fmt.Fprintln(os.Stderr, "stream completed")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(string(payload))
		}
	}

	var args [][]byte
	for _, a := range c.StringSlice("arg") {
		args = append(args, []byte(a))
	}

	ctx, cancel := contextWithTimeout(c, c.Duration("timeout"))
	defer cancel()

	result, err := cl.Call(ctx, target, c.String("method"), args...)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		fmt.Fprintln(os.Stderr, "ok (void)")
		return nil
	}
	fmt.Println(string(result))
	return nil
}
