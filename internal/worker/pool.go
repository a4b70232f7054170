package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// settleTimeout bounds scheduling a retry after the attempt context ended
const settleTimeout = 30 * time.Second

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes jobs until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for jm := range w.jobsChan {
		logger.Info("Worker received job",
			slog.String("submission_id", jm.job.Message.SubmissionID),
			slog.Int("attempt", jm.job.Message.Attempt),
			slog.Bool("redelivered", jm.job.Redelivered),
		)
		w.handle(ctx, logger, jm)
	}

	logger.Debug("Worker goroutine stopping - jobsChan closed")
}

// handle runs one attempt under the job timeout and settles its delivery
func (w *Worker) handle(ctx context.Context, logger *slog.Logger, jm *jobMessage) {
	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	out := w.attempter.Attempt(jobCtx, jm.job)
	w.settle(ctx, logger, jm, out)
}

// settle acks the delivery once the outcome is durable. A retry is acked only
// after its delayed message is published.
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, jm *jobMessage, out Outcome) {
	logger = logger.With(
		slog.String("submission_id", jm.job.Message.SubmissionID),
		slog.String("outcome", out.Kind.String()),
	)
	if out.Err != nil {
		logger = logger.With(slog.String("error", out.Err.Error()))
	}

	if out.Kind == OutcomeRetryAfter {
		schedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()

		if err := w.scheduler.EnqueueDelayed(schedCtx, out.Next, out.Delay); err != nil {
			logger.Error("Failed to schedule retry, requeueing delivery",
				slog.String("schedule_error", err.Error()),
			)
			if nackErr := jm.delivery.Nack(false, true); nackErr != nil {
				logger.Error("Failed to NACK message", slog.String("nack_error", nackErr.Error()))
			}
			return
		}
	}

	if err := jm.delivery.Ack(false); err != nil {
		logger.Error("Failed to ACK message", slog.String("ack_error", err.Error()))
		return
	}

	switch out.Kind {
	case OutcomeCompleted:
		logger.Info("Job completed successfully")
	case OutcomeFailed:
		logger.Warn("Job failed")
	default:
		logger.Debug("Message settled")
	}
}
