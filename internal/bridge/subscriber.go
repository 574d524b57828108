package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/skillstream/skillstream/model"
)

// ListenTask subscribes to a task's stream channel and invokes handler for
// each decoded event. It blocks until ctx is cancelled or the subscription
// ends. Undecodable payloads are logged and skipped.
func ListenTask(ctx context.Context, broker Broker, logger *zap.Logger, taskID string, handler func(model.StreamEvent)) error {
	sub, err := broker.Subscribe(ctx, model.StreamChannel(taskID))
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			evt, err := model.DecodeStreamEvent(payload)
			if err != nil {
				logger.Warn("dropping malformed stream event",
					zap.String("task_id", taskID), zap.Error(err))
				continue
			}
			handler(evt)
		}
	}
}
