package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.grapht.network/grapht/cmd/providers"
	"go.grapht.network/grapht/pkg/produce"
	"go.grapht.network/grapht/pkg/queue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var producerCmd = cobra.Command{
	Use:   "producer",
	Short: "Run the synthetic event producer",
	Args:  cobra.NoArgs,
	Run:   runProducer,
}

// Producer config keys.
const (
	ConfProducerBatch    = "producer.batch"
	ConfProducerInterval = "producer.interval"
	ConfProducerTotal    = "producer.total"
)

func init() {
	rootCmd.AddCommand(&producerCmd)
	viper.SetDefault(ConfProducerBatch, 1000)
	viper.SetDefault(ConfProducerInterval, 50*time.Millisecond)
	viper.SetDefault(ConfProducerTotal, 0)
	for key, env := range map[string]string{
		ConfProducerBatch:    "PRODUCER_BATCH",
		ConfProducerInterval: "PRODUCER_INTERVAL",
		ConfProducerTotal:    "PRODUCER_TOTAL",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func runProducer(cmd *cobra.Command, _ []string) {
	app := providers.NewApp(fx.Invoke(runProducerApp))
	app.Run()
}

type producerIn struct {
	fx.In

	Lifecycle fx.Lifecycle
	Shutdown  fx.Shutdowner
	Ctx       context.Context
	Redis     *redis.Client
}

func runProducerApp(log *zap.Logger, inputs producerIn) {
	producer := &produce.Producer{
		Queue: &queue.Queue{Redis: inputs.Redis, Log: log},
		Log:   log,
		Options: produce.Options{
			Queue:     viper.GetString(ConfQueueName),
			BatchSize: viper.GetInt(ConfProducerBatch),
			Interval:  viper.GetDuration(ConfProducerInterval),
			Total:     viper.GetInt(ConfProducerTotal),
		},
	}
	providers.RunWithContext(inputs.Lifecycle, inputs.Shutdown, log, inputs.Ctx, producer.Run)
}
