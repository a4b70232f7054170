// Package queue carries JobMessages between api-service and worker-service.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

const contentType = "application/json"

// Broker is the subset of the RabbitMQ client the publisher needs
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, body []byte, contentType string, d time.Duration) error
}

// Publisher encodes job messages and hands them to the broker
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

// NewPublisher creates a Publisher
func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{broker: broker, logger: logger}
}

// Enqueue schedules an attempt immediately
func (p *Publisher) Enqueue(ctx context.Context, msg domain.JobMessage) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := p.broker.PublishWithRetry(ctx, body, contentType); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", msg.SubmissionID, err)
	}

	p.logger.Debug("Job enqueued",
		slog.String("submission_id", msg.SubmissionID),
		slog.Int("attempt", msg.Attempt),
	)
	return nil
}

// EnqueueDelayed schedules an attempt to be delivered after d
func (p *Publisher) EnqueueDelayed(ctx context.Context, msg domain.JobMessage, d time.Duration) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := p.broker.PublishDelayed(ctx, body, contentType, d); err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", msg.SubmissionID, err)
	}

	p.logger.Info("Job retry scheduled",
		slog.String("submission_id", msg.SubmissionID),
		slog.Int("attempt", msg.Attempt),
		slog.Duration("delay", d),
	)
	return nil
}

// Encode serializes a message for the wire
func Encode(msg domain.JobMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job message: %w", err)
	}
	return body, nil
}

// Decode parses a delivery body. The submission id is required.
func Decode(body []byte) (domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.JobMessage{}, fmt.Errorf("failed to decode job message: %w", err)
	}
	if msg.SubmissionID == "" {
		return domain.JobMessage{}, fmt.Errorf("job message has no submission_id")
	}
	return msg, nil
}
