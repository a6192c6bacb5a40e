package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/leadbot/internal/delivery"
	"github.com/kalambet/leadbot/internal/metrics"
	"github.com/kalambet/leadbot/internal/pipeline"
	"github.com/kalambet/leadbot/internal/storage"
)

const (
	DefaultWorkers = 2
	DefaultPoll    = 100 * time.Millisecond
)

// Queue abstracts the durable queue operations the pool uses.
type Queue interface {
	Dequeue(ctx context.Context) (*storage.QueueItem, error)
	MarkCompleted(ctx context.Context, item *storage.QueueItem) error
	MarkFailed(ctx context.Context, item *storage.QueueItem, msg string) error
}

// Processor decides the fate of one event.
type Processor interface {
	Process(ctx context.Context, ev storage.Event) (pipeline.Outcome, error)
}

type PoolOptions struct {
	Workers  int
	Poll     time.Duration
	Notifier delivery.Notifier
	Metrics  *metrics.Counters
	Logger   *slog.Logger
}

// Pool runs queue workers. Workers share nothing but the queue, whose claim
// is atomic, so an item is processed by at most one of them.
type Pool struct {
	queue    Queue
	proc     Processor
	workers  int
	poll     time.Duration
	notifier delivery.Notifier
	metrics  *metrics.Counters
	logger   *slog.Logger
}

func NewPool(queue Queue, proc Processor, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		queue:    queue,
		proc:     proc,
		workers:  opts.Workers,
		poll:     opts.Poll,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.loop(ctx, worker)
			return nil
		})
	}
	p.logger.Info("worker pool started", "workers", p.workers)
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.poll):
		}
	}
}

// RunOnce claims and processes a single item. It returns true if an item was
// claimed, whatever its outcome.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	item, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("claiming item: %w", err)
	}
	if item == nil {
		return false, nil
	}

	outcome, err := p.process(ctx, item.Event)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Shutdown mid-item: leave it processing for stale recovery.
			return true, nil
		}
		p.metrics.Inc("worker_errors")
		p.logger.Warn("item failed", "item", item.ID, "chat", item.Event.ChatID, "error", err)
		if p.notifier != nil {
			p.notifier.Notify(ctx, fmt.Sprintf("⚠️ Ошибка обработки сообщения %d из чата %d: %v", item.Event.ID, item.Event.ChatID, err))
		}
		if failErr := p.queue.MarkFailed(ctx, item, err.Error()); failErr != nil {
			p.logger.Error("failed to mark item as failed", "item", item.ID, "error", failErr)
		}
		return true, nil
	}

	p.metrics.Inc("outcome_" + string(outcome))
	if err := p.queue.MarkCompleted(ctx, item); err != nil {
		return true, fmt.Errorf("completing item %d: %w", item.ID, err)
	}
	return true, nil
}

// process runs the processor and turns a panic into an error.
func (p *Pool) process(ctx context.Context, ev storage.Event) (out pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.proc.Process(ctx, ev)
}
