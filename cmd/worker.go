package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.grapht.network/grapht/cmd/providers"
	"go.grapht.network/grapht/pkg/graphdb"
	"go.grapht.network/grapht/pkg/names"
	"go.grapht.network/grapht/pkg/pipeline"
	"go.grapht.network/grapht/pkg/queue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var workerCmd = cobra.Command{
	Use:   "worker",
	Short: "Run projection workers",
	Long: "Drains the transaction queue into the store with a pool of workers.\n" +
		"Deployments chasing throughput should prefer one worker with large batches.",
	Args: cobra.NoArgs,
	Run:  runWorker,
}

// Worker config keys.
const (
	ConfQueueName       = "queue.name"
	ConfBatchSize       = "worker.batch_size"
	ConfConcurrency     = "worker.concurrency"
	ConfMonitorInterval = "worker.monitor_interval"
	ConfCacheTTL        = "cache.ttl"
	ConfMaxRetries      = "cache.max_retries"
)

func init() {
	rootCmd.AddCommand(&workerCmd)
	viper.SetDefault(ConfQueueName, "transactions")
	viper.SetDefault(ConfBatchSize, pipeline.DefaultBatchSize)
	viper.SetDefault(ConfConcurrency, pipeline.DefaultConcurrency)
	viper.SetDefault(ConfMonitorInterval, 2*time.Second)
	viper.SetDefault(ConfCacheTTL, names.DefaultTTL)
	viper.SetDefault(ConfMaxRetries, names.DefaultMaxRetries)
	for key, env := range map[string]string{
		ConfQueueName:       "QUEUE_NAME",
		ConfBatchSize:       "BATCH_SIZE",
		ConfConcurrency:     "WORKER_CONCURRENCY",
		ConfMonitorInterval: "MONITOR_INTERVAL",
		ConfCacheTTL:        "CACHE_TTL",
		ConfMaxRetries:      "MAX_RETRIES",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func runWorker(cmd *cobra.Command, _ []string) {
	app := providers.NewApp(fx.Invoke(runWorkerApp))
	app.Run()
}

type workerIn struct {
	fx.In

	Lifecycle fx.Lifecycle
	Shutdown  fx.Shutdowner
	Ctx       context.Context
	Redis     *redis.Client
	DB        *sqlx.DB
}

func runWorkerApp(log *zap.Logger, inputs workerIn) {
	store := &graphdb.Store{DB: inputs.DB}
	cache := &names.Cache{
		Store:      store,
		Log:        log,
		TTL:        viper.GetDuration(ConfCacheTTL),
		MaxRetries: viper.GetInt(ConfMaxRetries),
	}
	metrics := pipeline.NewMetrics(prometheus.DefaultRegisterer)
	projector := &graphdb.Projector{
		DB:         inputs.DB,
		Log:        log,
		OnDeadlock: func() { metrics.DeadlockRetries.Inc() },
	}
	worker := &pipeline.Worker{
		Queue:     &queue.Queue{Redis: inputs.Redis, Log: log},
		Resolver:  cache,
		Projector: projector,
		Log:       log,
		Options: pipeline.Options{
			Queue:           viper.GetString(ConfQueueName),
			BatchSize:       viper.GetInt(ConfBatchSize),
			Concurrency:     viper.GetInt(ConfConcurrency),
			MonitorInterval: viper.GetDuration(ConfMonitorInterval),
		},
		Metrics: metrics,
	}
	providers.ServeMetrics(inputs.Lifecycle, log)
	providers.RunWithContext(inputs.Lifecycle, inputs.Shutdown, log, inputs.Ctx,
		func(ctx context.Context) error {
			if err := cache.Connect(ctx); err != nil {
				return fmt.Errorf("failed to prime identity cache: %w", err)
			}
			return worker.Run(ctx)
		})
}
