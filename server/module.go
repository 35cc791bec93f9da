package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/webitel/actorbridge/config"
	"github.com/webitel/actorbridge/dispatch"
	"github.com/webitel/actorbridge/registry"
	"github.com/webitel/actorbridge/store"
	"github.com/webitel/actorbridge/store/notify"
	"github.com/webitel/actorbridge/trace"
	"github.com/webitel/actorbridge/transport/grpcwire"
	"github.com/webitel/actorbridge/transport/ws"
)

// Module assembles the hosting role: registry, lifecycle, dispatcher,
// listeners, health endpoint, and the notify fan-out, started and stopped
// through the fx lifecycle.
var Module = fx.Module("server",
	fx.Provide(
		fx.Annotate(
			registry.New,
			fx.ParamTags(`optional:"true"`),
		),
		registry.NewLifecycle,
		fx.Annotate(
			NewDispatcher,
			fx.ParamTags("", `optional:"true"`, `optional:"true"`),
		),
		fx.Annotate(
			NewFromConfig,
			fx.ParamTags("", "", "", "", `optional:"true"`, `optional:"true"`, `optional:"true"`, `optional:"true"`),
		),
	),
	fx.Invoke(
		Run,
		fx.Annotate(
			RunNotifyListener,
			fx.ParamTags("", "", `optional:"true"`),
		),
	),
)

// NewDispatcher builds the server-side dispatcher: hooks outermost, then
// trace spans, then panic recovery innermost, so a panicking handler is
// caught inside the span that records it.
func NewDispatcher(reg *registry.Registry, hooks trace.Hooks, tracer oteltrace.Tracer) *dispatch.Dispatcher {
	mws := []dispatch.Middleware{trace.HooksMiddleware(hooks)}
	if tracer != nil {
		mws = append(mws, trace.Middleware(tracer))
	}
	mws = append(mws, dispatch.Recover())
	return dispatch.New(reg, nil, dispatch.WithMiddleware(mws...))
}

// NewFromConfig builds a Server from the loaded configuration. store and
// notifier are optional: absent both, state persistence and cross-replica
// fan-out are simply disabled. hooks reach both halves of the callback
// surface: the dispatcher middleware fires the invocation callback, and the
// server's stream sessions fire the stream start/end callbacks.
func NewFromConfig(
	cfg *config.Config,
	reg *registry.Registry,
	life *registry.Lifecycle,
	disp *dispatch.Dispatcher,
	hooks trace.Hooks,
	logger *slog.Logger,
	st store.Store,
	notifier notify.Notifier,
) *Server {
	opts := []Option{WithHooks(hooks)}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	if st != nil {
		opts = append(opts, WithStateStore(st, notifier))
	}
	return New(cfg.Server, reg, life, disp, opts...)
}

// Run wires the listeners and health endpoint into the fx lifecycle.
func Run(lc fx.Lifecycle, cfg *config.Config, srv *Server, logger *slog.Logger, shutdowner fx.Shutdowner) {
	var (
		wsListener   *ws.Listener
		wsHTTP       *http.Server
		grpcListener *grpcwire.Listener
		healthHTTP   *http.Server
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Server.WSAddr != "" {
				wsListener = ws.NewListener(cfg.Server.WSAddr)
				mux := http.NewServeMux()
				mux.Handle(cfg.Server.WSPath, wsListener)
				wsHTTP = &http.Server{Addr: cfg.Server.WSAddr, Handler: mux}
				go func() {
					if err := wsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("WS_LISTENER_FAILED", slog.Any("err", err))
						shutdowner.Shutdown()
					}
				}()
				go srv.Serve(wsListener)
			}

			if cfg.Server.GRPCAddr != "" {
				l, err := grpcwire.NewListener(cfg.Server.GRPCAddr)
				if err != nil {
					return err
				}
				grpcListener = l
				go srv.Serve(grpcListener)
			}

			if cfg.Server.HealthAddr != "" {
				healthHTTP = &http.Server{Addr: cfg.Server.HealthAddr, Handler: HealthHandler(srv)}
				go func() {
					if err := healthHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("HEALTH_LISTENER_FAILED", slog.Any("err", err))
					}
				}()
			}

			logger.Info("SERVER_STARTED",
				slog.String("ws", cfg.Server.WSAddr),
				slog.String("grpc", cfg.Server.GRPCAddr),
				slog.String("health", cfg.Server.HealthAddr))
			return nil
		},

		OnStop: func(ctx context.Context) error {
			stopAccepting := func() {
				if wsHTTP != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					wsHTTP.Shutdown(shutdownCtx)
				}
				if wsListener != nil {
					wsListener.Close()
				}
				if grpcListener != nil {
					grpcListener.Close()
				}
			}
			err := srv.Shutdown(ctx, stopAccepting)

			if healthHTTP != nil {
				healthHTTP.Close()
			}
			return err
		},
	})
}

// RunNotifyListener starts the long-lived cross-replica listener when a
// subscriber is configured: one goroutine owning the subscription, fanning
// decoded notifications into the server's per-actor session index.
func RunNotifyListener(lc fx.Lifecycle, srv *Server, subscriber message.Subscriber, logger *slog.Logger) {
	if subscriber == nil {
		return
	}
	listener := notify.NewListener(subscriber, srv.OnStateChange, logger)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("NOTIFY_LISTENER_STOPPED", slog.Any("err", err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
