package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.grapht.network/grapht/cmd/providers"
	"go.grapht.network/grapht/pkg/egonet"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var apiCmd = cobra.Command{
	Use:   "api",
	Short: "Serve the ego-network read API",
	Args:  cobra.NoArgs,
	Run:   runAPI,
}

// API config keys.
const (
	ConfAPIAddr = "api.addr"
)

func init() {
	rootCmd.AddCommand(&apiCmd)
	viper.SetDefault(ConfAPIAddr, ":8080")
	if err := viper.BindEnv(ConfAPIAddr, "API_ADDR"); err != nil {
		panic(err)
	}
}

func runAPI(cmd *cobra.Command, _ []string) {
	app := providers.NewApp(fx.Invoke(runAPIApp))
	app.Run()
}

type apiIn struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *sqlx.DB
}

func runAPIApp(log *zap.Logger, inputs apiIn) {
	store := &egonet.Store{DB: inputs.DB, Log: log}
	server := &http.Server{
		Addr:    viper.GetString(ConfAPIAddr),
		Handler: store.Router(),
	}
	inputs.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			log.Info("Serving read API", zap.String(ConfAPIAddr, server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("API server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
