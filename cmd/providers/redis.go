package providers

import (
	"context"
	"fmt"
	"net"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Redis config keys.
const (
	ConfRedisHost     = "redis.host"
	ConfRedisPort     = "redis.port"
	ConfRedisPassword = "redis.password"
	ConfRedisDB       = "redis.db"
)

func init() {
	viper.SetDefault(ConfRedisHost, "localhost")
	viper.SetDefault(ConfRedisPort, "6379")
	viper.SetDefault(ConfRedisPassword, "")
	viper.SetDefault(ConfRedisDB, 0)
	must(viper.BindEnv(ConfRedisHost, "REDIS_HOST"))
	must(viper.BindEnv(ConfRedisPort, "REDIS_PORT"))
	must(viper.BindEnv(ConfRedisPassword, "REDIS_PASSWORD"))
	must(viper.BindEnv(ConfRedisDB, "REDIS_DB"))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// NewRedis connects a Redis client to the queue from config.
func NewRedis(ctx context.Context, log *zap.Logger, lc fx.Lifecycle) (*redis.Client, error) {
	redisOpts := &redis.Options{
		Addr:     net.JoinHostPort(viper.GetString(ConfRedisHost), viper.GetString(ConfRedisPort)),
		Password: viper.GetString(ConfRedisPassword),
		DB:       viper.GetInt(ConfRedisDB),
	}
	log.Info("Connecting to Redis",
		zap.String("redis.addr", redisOpts.Addr),
		zap.Int(ConfRedisDB, redisOpts.DB))
	rd := redis.NewClient(redisOpts)
	if err := rd.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("Closing Redis client")
			err := rd.Close()
			if err != nil {
				log.Error("Failed to close Redis client", zap.Error(err))
			}
			return err
		},
	})
	return rd, nil
}
