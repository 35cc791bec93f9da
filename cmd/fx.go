package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/webitel/actorbridge/config"
	"github.com/webitel/actorbridge/internal/testactor"
	"github.com/webitel/actorbridge/registry"
	"github.com/webitel/actorbridge/server"
	"github.com/webitel/actorbridge/store"
	"github.com/webitel/actorbridge/store/notify"
	"github.com/webitel/actorbridge/trace"
	"github.com/webitel/actorbridge/wire"
)

// NewServerApp assembles the hosting process.
func NewServerApp(cfg *config.Config, demo bool) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideTracer,
			ProvideHooks,
			fx.Annotate(store.NewMemory, fx.As(new(store.Store))),
			ProvidePubSub,
			ProvideNotifier,
		),
		server.Module,
	}
	if demo {
		opts = append(opts, fx.Invoke(RegisterDemoActors))
	}
	return fx.New(opts...)
}

// ProvideLogger builds the process logger. Log records double as the
// trace-correlated stream when tracing is enabled (the otelslog bridge is
// attached by newHandler in logger.go).
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := newHandler(cfg, level)
	logger := slog.New(handler).With(slog.String("service", ServiceName))
	slog.SetDefault(logger)
	return logger
}

func textHandler(level slog.Level) slog.Handler {
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}

// ProvideTracer configures the OpenTelemetry trace SDK when enabled,
// shutting the provider down through the fx lifecycle so buffered spans
// flush on exit. Disabled tracing yields a nil Tracer, which the server
// module treats as "no trace middleware".
func ProvideTracer(lc fx.Lifecycle, cfg *config.Config) oteltrace.Tracer {
	if !cfg.Trace.Enabled {
		return nil
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp.Tracer(cfg.Trace.ServiceName)
}

// ProvideHooks installs the default observability callbacks: structured
// log lines per invocation and stream lifecycle event.
func ProvideHooks(logger *slog.Logger) trace.Hooks {
	return trace.Hooks{
		OnInvocation: func(actorID wire.ActorID, method string) {
			logger.Debug("INVOCATION",
				slog.String("actorId", actorID.String()),
				slog.String("method", method))
		},
		OnStreamStart: func(actorID wire.ActorID, method string) {
			logger.Debug("STREAM_START",
				slog.String("actorId", actorID.String()),
				slog.String("method", method))
		},
		OnStreamEnd: func(actorID wire.ActorID, method string) {
			logger.Debug("STREAM_END",
				slog.String("actorId", actorID.String()),
				slog.String("method", method))
		},
	}
}

// ProvidePubSub selects the cross-replica notification backend: amqp when
// configured, the in-process gochannel otherwise, or nothing at all when
// notify is disabled.
func ProvidePubSub(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	if !cfg.Notify.Enabled {
		return nil, nil, nil
	}

	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)
	if cfg.Notify.AMQPURL != "" {
		pub, sub, err = notify.NewAMQPPubSub(cfg.Notify.AMQPURL, ServiceName, logger)
		if err != nil {
			return nil, nil, err
		}
	} else {
		pub, sub = notify.NewInProcessPubSub(logger)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pub.Close()
			return sub.Close()
		},
	})
	return pub, sub, nil
}

// ProvideNotifier wraps the publisher as the store contract's Notifier.
func ProvideNotifier(pub message.Publisher) notify.Notifier {
	if pub == nil {
		return nil
	}
	return notify.NewNotifier(pub)
}

// RegisterDemoActors hosts the smoke-test actors: "echo" and a persistent
// "counter" whose ticks stream is resumable.
func RegisterDemoActors(reg *registry.Registry, st store.Store, logger *slog.Logger) {
	reg.Register(wire.Local("echo"), testactor.NewEcho())
	reg.Register(wire.Local("counter"), &testactor.Counter{
		ID:    wire.Local("counter"),
		Store: st,
	})
	logger.Info("DEMO_ACTORS_REGISTERED")
}
