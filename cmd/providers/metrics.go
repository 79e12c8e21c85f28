package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics config keys.
const (
	ConfMetricsAddr = "metrics.addr"
)

func init() {
	viper.SetDefault(ConfMetricsAddr, ":9090")
	must(viper.BindEnv(ConfMetricsAddr, "METRICS_ADDR"))
}

// ServeMetrics exposes the Prometheus registry over HTTP for the app lifetime.
func ServeMetrics(lc fx.Lifecycle, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    viper.GetString(ConfMetricsAddr),
		Handler: mux,
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			log.Info("Serving metrics", zap.String(ConfMetricsAddr, server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
