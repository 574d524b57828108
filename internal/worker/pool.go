// Package worker consumes the task queue and runs the generation pipeline.
// The pool provides task-level parallelism; a single task's stages stay
// strictly sequential inside one goroutine.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/ledger"
	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/internal/pipeline"
	"github.com/skillstream/skillstream/internal/queue"
	"github.com/skillstream/skillstream/model"
)

// Runner executes one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, task model.Task) *pipeline.State
}

// Pool runs up to Concurrency tasks at once off the queue.
type Pool struct {
	queue       queue.Queue
	store       ledger.Store
	runner      Runner
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

// NewPool wires a worker pool. concurrency values below one are raised to
// one.
func NewPool(q queue.Queue, store ledger.Store, runner Runner, logger *zap.Logger, metrics *observability.Metrics, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		queue:       q,
		store:       store,
		runner:      runner,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// Run blocks until ctx is cancelled and every in-flight task finished.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool started", zap.Int("concurrency", p.concurrency))

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, slot int) {
	logger := p.logger.With(zap.Int("worker", slot))
	for {
		if ctx.Err() != nil {
			return
		}

		taskID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue pop failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if taskID == "" {
			continue
		}

		p.observeDepth(ctx)
		p.process(ctx, logger, taskID)
	}
}

func (p *Pool) process(ctx context.Context, logger *zap.Logger, taskID string) {
	task, err := p.store.Get(ctx, taskID)
	if err != nil {
		logger.Error("dequeued unknown task", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if task.Status.Terminal() {
		logger.Warn("dequeued terminal task", zap.String("task_id", taskID), zap.String("status", string(task.Status)))
		return
	}

	// A task that started must reach a terminal state even if shutdown
	// begins mid-run. The pool's drain wait in main bounds how long this
	// can take.
	p.runner.Run(context.WithoutCancel(ctx), task)
}

func (p *Pool) observeDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	if depth, err := p.queue.Depth(ctx); err == nil {
		p.metrics.QueueDepth.Set(float64(depth))
	}
}
