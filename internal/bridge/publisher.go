package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/observability"
	"github.com/skillstream/skillstream/model"
)

// Publisher emits stream events for running tasks. Events flow through a
// bounded queue drained by a single goroutine; when the queue is full the
// newest event is dropped and counted, and pipeline execution is never
// blocked or failed by publish problems.
type Publisher struct {
	broker  Broker
	logger  *zap.Logger
	metrics *observability.Metrics

	queue chan model.StreamEvent
	seq   atomic.Uint64
	done  chan struct{}
}

// NewPublisher creates a publisher with the given queue capacity.
func NewPublisher(broker Broker, logger *zap.Logger, metrics *observability.Metrics, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Publisher{
		broker:  broker,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan model.StreamEvent, queueSize),
		done:    make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case evt := <-p.queue:
			p.publish(ctx, evt)
		}
	}
}

// Wait blocks until the Run loop has exited.
func (p *Publisher) Wait() {
	<-p.done
}

// Emit enqueues a stream event. Never blocks: when the queue is full the
// event is dropped and recorded.
func (p *Publisher) Emit(taskID string, eventType model.EventType, stage string, payload map[string]any) {
	evt := model.StreamEvent{
		TaskID:     taskID,
		Type:       eventType,
		Stage:      stage,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
		SequenceID: p.seq.Add(1),
	}

	select {
	case p.queue <- evt:
		if p.metrics != nil {
			p.metrics.PublishQueueLength.Set(float64(len(p.queue)))
		}
	default:
		if p.metrics != nil {
			p.metrics.RecordEventDropped()
		}
		p.logger.Warn("publish queue full, dropping event",
			zap.String("task_id", taskID),
			zap.String("event_type", string(eventType)),
		)
	}
}

// publish sends one event to the broker. Failures are logged and swallowed.
func (p *Publisher) publish(ctx context.Context, evt model.StreamEvent) {
	data, err := evt.Encode()
	if err != nil {
		p.logger.Error("encode stream event", zap.Error(err),
			zap.String("task_id", evt.TaskID))
		return
	}

	if err := p.broker.Publish(ctx, model.StreamChannel(evt.TaskID), data); err != nil {
		p.logger.Warn("publish stream event", zap.Error(err),
			zap.String("task_id", evt.TaskID),
			zap.String("event_type", string(evt.Type)))
		return
	}

	if p.metrics != nil {
		p.metrics.RecordEventPublished(string(evt.Type))
		p.metrics.PublishQueueLength.Set(float64(len(p.queue)))
	}
}

// flush publishes events still buffered at shutdown, with a short deadline
// so shutdown cannot hang on a dead broker.
func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		select {
		case evt := <-p.queue:
			p.publish(ctx, evt)
		default:
			return
		}
	}
}
