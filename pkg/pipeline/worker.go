// Package pipeline runs the projection workers that drain the transaction
// queue into the store: pop → decode → plan → resolve ids → project.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.grapht.network/grapht/pkg/event"
	"go.grapht.network/grapht/pkg/plan"
	"go.grapht.network/grapht/pkg/queue"
)

// Projector commits a resolved batch. *graphdb.Projector implements it.
type Projector interface {
	Project(ctx context.Context, res *plan.Resolved) error
}

// Resolver maps user names to ids. *names.Cache implements it.
type Resolver interface {
	EnsureUsers(ctx context.Context, userNames []string) (map[string]int64, error)
}

// Options configures the worker pool.
type Options struct {
	Queue           string
	BatchSize       int
	Concurrency     int
	IdleSleep       time.Duration
	ErrorSleep      time.Duration
	MonitorInterval time.Duration
}

// Defaults.
const (
	DefaultBatchSize       = 10000
	DefaultConcurrency     = 8
	DefaultIdleSleep       = 50 * time.Millisecond
	DefaultErrorSleep      = 200 * time.Millisecond
	DefaultMonitorInterval = 2 * time.Second
)

func (o *Options) withDefaults() Options {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.Concurrency <= 0 {
		out.Concurrency = DefaultConcurrency
	}
	if out.IdleSleep <= 0 {
		out.IdleSleep = DefaultIdleSleep
	}
	if out.ErrorSleep <= 0 {
		out.ErrorSleep = DefaultErrorSleep
	}
	if out.MonitorInterval <= 0 {
		out.MonitorInterval = DefaultMonitorInterval
	}
	return out
}

// Worker drains the queue into the store with a pool of concurrent loops.
//
// Concurrent loops contend on user rows and friendship pairs; the store side
// resolves that with deadlock retries. High-throughput deployments run one
// loop with large batches instead of many loops.
type Worker struct {
	// Required components
	Queue     *queue.Queue
	Resolver  Resolver
	Projector Projector
	Log       *zap.Logger
	// Required config
	Options Options
	// Optional
	Metrics *Metrics

	processed atomic.Int64
	batches   atomic.Int64
	failures  atomic.Int64
}

// Processed returns the number of events committed so far.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Run executes the worker loops and the throughput monitor until ctx is
// cancelled, then waits for in-flight batches to finish.
func (w *Worker) Run(ctx context.Context) error {
	opts := w.Options.withDefaults()
	w.Log.Info("Starting projection workers",
		zap.String("queue", opts.Queue),
		zap.Int("concurrency", opts.Concurrency),
		zap.Int("batch_size", opts.BatchSize))
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.loop(ctx, id, opts)
		})
	}
	g.Go(func() error {
		return w.monitor(ctx, opts)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.Log.Info("Projection workers stopped",
		zap.Int64("events_processed", w.processed.Load()),
		zap.Int64("batches_committed", w.batches.Load()),
		zap.Int64("batch_failures", w.failures.Load()))
	return err
}

func (w *Worker) loop(ctx context.Context, id int, opts Options) error {
	log := w.Log.With(zap.Int("worker", id))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.step(ctx, log, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("Batch failed", zap.Error(err))
			w.failures.Add(1)
			if w.Metrics != nil {
				w.Metrics.BatchFailures.Inc()
			}
			if err := sleep(ctx, opts.ErrorSleep); err != nil {
				return err
			}
			continue
		}
		if n == 0 {
			if err := sleep(ctx, opts.IdleSleep); err != nil {
				return err
			}
		}
	}
}

// step processes one batch. It returns the number of events committed;
// zero with a nil error means no event was decoded (the queue was empty or
// every popped payload was malformed).
func (w *Worker) step(ctx context.Context, log *zap.Logger, opts Options) (int, error) {
	start := time.Now()
	payloads, err := w.Queue.PopBatch(ctx, opts.Queue, opts.BatchSize)
	if err != nil {
		return 0, err
	}
	events := make([]event.Event, 0, len(payloads))
	for _, payload := range payloads {
		ev, err := event.Decode(payload)
		if err != nil {
			log.Warn("Skipping malformed payload", zap.Error(err))
			if w.Metrics != nil {
				w.Metrics.DecodeDrops.Inc()
			}
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return 0, nil
	}
	batch := plan.New(events)
	ids, err := w.Resolver.EnsureUsers(ctx, batch.NewUsers)
	if err != nil {
		return 0, fmt.Errorf("batch of %d events: %w", len(events), err)
	}
	res, err := batch.Resolve(ids)
	if err != nil {
		return 0, fmt.Errorf("batch of %d events: %w", len(events), err)
	}
	if err := w.Projector.Project(ctx, res); err != nil {
		return 0, fmt.Errorf("batch of %d events: %w", len(events), err)
	}
	n := batch.Events()
	w.processed.Add(int64(n))
	w.batches.Add(1)
	if w.Metrics != nil {
		w.Metrics.EventsProcessed.Add(float64(n))
		w.Metrics.BatchesCommitted.Inc()
	}
	elapsed := time.Since(start)
	log.Info("Committed batch",
		zap.Int("events", n),
		zap.Duration("elapsed", elapsed),
		zap.Float64("events_per_sec", float64(n)/elapsed.Seconds()))
	return n, nil
}

// monitor reports throughput and queue depth at a fixed interval.
func (w *Worker) monitor(ctx context.Context, opts Options) error {
	ticker := time.NewTicker(opts.MonitorInterval)
	defer ticker.Stop()
	last := w.processed.Load()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		total := w.processed.Load()
		delta := total - last
		last = total
		depth, err := w.Queue.Length(ctx, opts.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Log.Warn("Failed to read queue length", zap.Error(err))
			depth = -1
		} else if w.Metrics != nil {
			w.Metrics.QueueLength.Set(float64(depth))
		}
		w.Log.Info("Throughput report",
			zap.Int64("events_total", total),
			zap.Float64("events_per_sec", float64(delta)/opts.MonitorInterval.Seconds()),
			zap.Int64("queue_length", depth))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
