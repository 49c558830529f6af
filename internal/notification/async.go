package notification

import (
	"context"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/worker"
)

// AsyncSink hands records to a worker pool so slow sinks never sit on the
// payment path. Records are dropped, logged and counted when the queue is full.
type AsyncSink struct {
	next    events.Sink
	pool    *worker.Pool
	logger  *observability.Logger
	metrics *observability.Metrics
}

// AsyncConfig configures an AsyncSink
type AsyncConfig struct {
	Workers   int
	QueueSize int
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewAsyncSink wraps next. Records are delivered with a detached context
// bound to ctx's lifetime only through Close.
func NewAsyncSink(ctx context.Context, next events.Sink, cfg AsyncConfig) *AsyncSink {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	return &AsyncSink{
		next: next,
		pool: worker.NewPoolWithConfig(context.WithoutCancel(ctx), worker.PoolConfig{
			Workers:    cfg.Workers,
			QueueSize:  cfg.QueueSize,
			DropPolicy: worker.DropPolicyDropNewest,
		}),
		logger:  cfg.Logger.Component("async-sink"),
		metrics: cfg.Metrics,
	}
}

// Emit implements events.Sink.
func (s *AsyncSink) Emit(ctx context.Context, rec events.Record) {
	err := s.pool.Submit(worker.Job{
		ID: rec.ID,
		Execute: func(ctx context.Context) error {
			s.next.Emit(ctx, rec)
			return nil
		},
	})
	if err != nil {
		s.metrics.RecordEventPublished(ctx, "async", "dropped")
		s.logger.LogWarn(ctx, "dropping audit record", "record_id", rec.ID, "kind", rec.Kind, "error", err)
	}
}

// Close flushes queued records.
func (s *AsyncSink) Close() {
	s.pool.Close()
}
