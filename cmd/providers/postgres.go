package providers

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Postgres config keys.
const (
	ConfDatabaseURL = "database.url"
)

func init() {
	viper.SetDefault(ConfDatabaseURL, "")
	must(viper.BindEnv(ConfDatabaseURL, "DATABASE_URL"))
}

// NewPostgres connects an SQL client to the projection store from config.
func NewPostgres(log *zap.Logger, lc fx.Lifecycle) (*sqlx.DB, error) {
	url := viper.GetString(ConfDatabaseURL)
	if url == "" {
		return nil, fmt.Errorf("empty %s", ConfDatabaseURL)
	}
	log.Info("Connecting to Postgres")
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}
