package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/fanout-publisher/internal/queue"
)

// setupConsumer sets QoS and starts consuming under the worker id as consumer tag
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// prefetch_count bounds unacknowledged deliveries held by this consumer
	if err := w.consumer.Qos(w.prefetchCount); err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.consumer.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Info("Message dispatcher stopped - delivery channel closed")
				return
			}

			msg, err := queue.Decode(delivery.Body)
			if err != nil {
				w.logger.Error("Dropping undecodable message",
					slog.String("error", fmt.Errorf("%w: %w", ErrInvalidMessage, err).Error()),
					slog.String("body", string(delivery.Body)),
				)
				// dropped, not requeued
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			jm := &jobMessage{
				delivery: delivery,
				job:      Delivery{Message: msg, Redelivered: delivery.Redelivered},
			}

			select {
			case w.jobsChan <- jm:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("submission_id", msg.SubmissionID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
