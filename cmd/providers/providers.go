// Package providers wires shared components into fx apps.
package providers

import (
	"context"

	"go.grapht.network/grapht/pkg/appctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Log is the global logger, set by the root command before any app starts.
var Log *zap.Logger

// Providers holds constructors for shared components.
var Providers = []interface{}{
	// postgres.go
	NewPostgres,
	// providers.go
	NewContext,
	// redis.go
	NewRedis,
}

// NewApp assembles an fx app with the shared providers plus per-command options.
func NewApp(opts ...fx.Option) *fx.App {
	baseOpts := []fx.Option{
		fx.Provide(Providers...),
		fx.Supply(Log),
		fx.Logger(zap.NewStdLog(Log)),
	}
	baseOpts = append(baseOpts, opts...)
	return fx.New(baseOpts...)
}

// NewContext returns the app context, cancelled on SIGINT/SIGTERM.
func NewContext() context.Context {
	return appctx.Context()
}

// RunWithContext runs a long-lived loop in the background and shuts the app
// down when the loop returns. On app stop the loop context is cancelled and
// in-flight work is awaited. A non-nil loop error exits the process non-zero.
func RunWithContext(lc fx.Lifecycle, shutdown fx.Shutdowner, log *zap.Logger,
	ctx context.Context, run func(ctx context.Context) error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				defer close(done)
				if err := run(runCtx); err != nil && runCtx.Err() == nil {
					log.Error("Run loop failed", zap.Error(err))
					_ = shutdown.Shutdown(fx.ExitCode(1))
					return
				}
				_ = shutdown.Shutdown()
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
