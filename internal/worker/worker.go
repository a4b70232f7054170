// Package worker consumes job messages and runs publish attempts on a
// goroutine pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
)

// Consumer is the subset of the RabbitMQ client the worker reads from
type Consumer interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Scheduler re-enqueues a job after a delay
type Scheduler interface {
	EnqueueDelayed(ctx context.Context, msg domain.JobMessage, d time.Duration) error
}

// Attempter runs one attempt for a delivery
type Attempter interface {
	Attempt(ctx context.Context, d Delivery) Outcome
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Consumer      Consumer
	Scheduler     Scheduler
	Attempter     Attempter
	WorkerID      string
	QueueName     string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
}

// jobMessage pairs a decoded message with the delivery that must be settled
type jobMessage struct {
	delivery amqp.Delivery
	job      Delivery
}

// Worker represents the background job worker
type Worker struct {
	logger        *slog.Logger
	consumer      Consumer
	scheduler     Scheduler
	attempter     Attempter
	workerID      string
	queueName     string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	jobsChan      chan *jobMessage
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		consumer:      cfg.Consumer,
		scheduler:     cfg.Scheduler,
		attempter:     cfg.Attempter,
		workerID:      cfg.WorkerID,
		queueName:     cfg.QueueName,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobTimeout:    cfg.JobTimeout,
		jobsChan:      make(chan *jobMessage),
	}
}

// Start consumes until the delivery channel closes or ctx is canceled, then
// waits for in-flight attempts to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// Stop cancels the consumer so that Start drains and returns
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
		if err := w.consumer.Cancel(w.workerID); err != nil {
			w.logger.Warn("Failed to cancel consumer",
				slog.String("worker_id", w.workerID),
				slog.String("error", err.Error()),
			)
		}
	})
}
