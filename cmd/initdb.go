package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.grapht.network/grapht/cmd/providers"
	"go.grapht.network/grapht/pkg/graphdb"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var initDBCmd = cobra.Command{
	Use:   "init-db",
	Short: "Create the projection store tables",
	Args:  cobra.NoArgs,
	Run:   runInitDB,
}

func init() {
	rootCmd.AddCommand(&initDBCmd)
}

func runInitDB(cmd *cobra.Command, _ []string) {
	app := providers.NewApp(fx.Invoke(func(log *zap.Logger, ctx context.Context, db *sqlx.DB, shutdown fx.Shutdowner) {
		if err := graphdb.CreateSchema(ctx, db); err != nil {
			log.Error("Failed to create schema", zap.Error(err))
			_ = shutdown.Shutdown(fx.ExitCode(1))
			return
		}
		log.Info("Schema created")
		_ = shutdown.Shutdown()
	}))
	app.Run()
}
