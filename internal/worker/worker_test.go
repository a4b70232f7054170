package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fanout-publisher/internal/domain"
	"github.com/cuongbtq/fanout-publisher/internal/platform"
	"github.com/cuongbtq/fanout-publisher/internal/queue"
)

type settlement struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, acked: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) byTag() map[uint64]settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]settlement, len(a.settled))
	for _, s := range a.settled {
		out[s.tag] = s
	}
	return out
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	prefetch   int
	tag        string
	cancelOnce sync.Once
}

func (c *fakeConsumer) Qos(prefetchCount int) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeConsumer) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	c.tag = consumerTag
	return c.deliveries, nil
}

func (c *fakeConsumer) Cancel(consumerTag string) error {
	c.cancelOnce.Do(func() { close(c.deliveries) })
	return nil
}

type scheduled struct {
	msg   domain.JobMessage
	delay time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	err   error
}

func (s *fakeScheduler) EnqueueDelayed(ctx context.Context, msg domain.JobMessage, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, scheduled{msg: msg, delay: d})
	return nil
}

type scriptedAttempter struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	seen     []Delivery
	deadline bool
}

func (a *scriptedAttempter) Attempt(ctx context.Context, d Delivery) Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, d)
	_, a.deadline = ctx.Deadline()
	return a.outcomes[d.Message.SubmissionID]
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, msg domain.JobMessage, redelivered bool) amqp.Delivery {
	t.Helper()
	body, err := queue.Encode(msg)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body, Redelivered: redelivered}
}

type workerHarness struct {
	worker    *Worker
	consumer  *fakeConsumer
	scheduler *fakeScheduler
	attempter *scriptedAttempter
	ack       *fakeAcknowledger
}

func newWorkerHarness(outcomes map[string]Outcome) *workerHarness {
	attempter := &scriptedAttempter{outcomes: outcomes}
	h := newWorkerHarnessWith(attempter, &fakeScheduler{})
	h.attempter = attempter
	return h
}

func newWorkerHarnessWith(attempter Attempter, scheduler *fakeScheduler) *workerHarness {
	h := &workerHarness{
		consumer:  &fakeConsumer{deliveries: make(chan amqp.Delivery, 10)},
		scheduler: scheduler,
		ack:       &fakeAcknowledger{},
	}
	h.worker = NewWorker(&Config{
		Logger:      testLogger(),
		Consumer:    h.consumer,
		Scheduler:   h.scheduler,
		Attempter:   attempter,
		WorkerID:    "worker-test",
		QueueName:   "publish_queue",
		Concurrency: 2,
		JobTimeout:  time.Minute,
	})
	return h
}

// run feeds the deliveries, stops the consumer and waits for Start to drain
func (h *workerHarness) run(t *testing.T, deliveries ...amqp.Delivery) {
	t.Helper()
	for _, d := range deliveries {
		h.consumer.deliveries <- d
	}
	h.worker.Stop()

	done := make(chan error, 1)
	go func() { done <- h.worker.Start(t.Context()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_SettlesOutcomes(t *testing.T) {
	next := domain.JobMessage{SubmissionID: "retry", Attempt: 1, RetryCount: 1}
	h := newWorkerHarness(map[string]Outcome{
		"done":    {Kind: OutcomeCompleted},
		"retry":   {Kind: OutcomeRetryAfter, Delay: time.Minute, Next: next},
		"fatal":   {Kind: OutcomeFailed, Err: errors.New("rejected")},
		"skipped": {Kind: OutcomeSkipped, Err: ErrStaleMessage},
	})

	h.run(t,
		delivery(t, h.ack, 1, domain.JobMessage{SubmissionID: "done"}, false),
		delivery(t, h.ack, 2, domain.JobMessage{SubmissionID: "retry"}, false),
		delivery(t, h.ack, 3, domain.JobMessage{SubmissionID: "fatal"}, false),
		delivery(t, h.ack, 4, domain.JobMessage{SubmissionID: "skipped"}, true),
	)

	settled := h.ack.byTag()
	require.Len(t, settled, 4)
	for tag := uint64(1); tag <= 4; tag++ {
		assert.True(t, settled[tag].acked, "delivery %d should be acked", tag)
	}

	require.Len(t, h.scheduler.calls, 1)
	assert.Equal(t, scheduled{msg: next, delay: time.Minute}, h.scheduler.calls[0])

	assert.Equal(t, 2, h.consumer.prefetch)
	assert.Equal(t, "worker-test", h.consumer.tag)
	assert.True(t, h.attempter.deadline)

	redelivered := 0
	for _, d := range h.attempter.seen {
		if d.Redelivered {
			redelivered++
			assert.Equal(t, "skipped", d.Message.SubmissionID)
		}
	}
	assert.Equal(t, 1, redelivered)
}

func TestWorker_ScheduleFailureRequeues(t *testing.T) {
	h := newWorkerHarness(map[string]Outcome{
		"retry": {Kind: OutcomeRetryAfter, Delay: time.Minute, Next: domain.JobMessage{SubmissionID: "retry", Attempt: 1}},
	})
	h.scheduler.err = errors.New("channel closed")

	h.run(t, delivery(t, h.ack, 7, domain.JobMessage{SubmissionID: "retry"}, false))

	settled := h.ack.byTag()
	require.Contains(t, settled, uint64(7))
	assert.False(t, settled[7].acked)
	assert.True(t, settled[7].requeue)
}

func TestWorker_RequeuedDeliverySchedulesPendingRetry(t *testing.T) {
	transient := platform.Transient(domain.PlatformYouTube, "upload_chunk", "timeout", nil)
	orch := newOrchHarness(t, transient, nil)
	id := orch.submit(t, domain.PlatformYouTube)
	msg := domain.JobMessage{SubmissionID: id}

	scheduler := &fakeScheduler{err: errors.New("channel closed")}
	h := newWorkerHarnessWith(orch.orch, scheduler)
	h.run(t, delivery(t, h.ack, 1, msg, false))

	settled := h.ack.byTag()
	require.Contains(t, settled, uint64(1))
	assert.True(t, settled[1].requeue)
	assert.Equal(t, domain.JobStatusPending, orch.job(t, id).Status)

	// the broker hands the requeued message to the next consumer
	scheduler.err = nil
	h = newWorkerHarnessWith(orch.orch, scheduler)
	h.run(t, delivery(t, h.ack, 2, msg, true))

	settled = h.ack.byTag()
	require.Contains(t, settled, uint64(2))
	assert.True(t, settled[2].acked)
	require.Len(t, scheduler.calls, 1)
	assert.Equal(t, scheduled{
		msg:   domain.JobMessage{SubmissionID: id, Attempt: 1, RetryCount: 1},
		delay: 60 * time.Second,
	}, scheduler.calls[0])
	assert.Equal(t, 1, orch.adapter.calls)

	job := orch.job(t, id)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
}

func TestWorker_DropsMalformedMessages(t *testing.T) {
	h := newWorkerHarness(nil)

	h.run(t,
		amqp.Delivery{Acknowledger: h.ack, DeliveryTag: 1, Body: []byte(`not json`)},
		amqp.Delivery{Acknowledger: h.ack, DeliveryTag: 2, Body: []byte(`{"attempt":1}`)},
	)

	settled := h.ack.byTag()
	require.Len(t, settled, 2)
	for _, s := range settled {
		assert.False(t, s.acked)
		assert.False(t, s.requeue)
	}
	assert.Empty(t, h.attempter.seen)
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&Config{Logger: testLogger(), Concurrency: 0})
	assert.Equal(t, 1, w.concurrency)
	assert.Equal(t, 1, w.prefetchCount)

	w = NewWorker(&Config{Logger: testLogger(), Concurrency: 4, PrefetchCount: 8})
	assert.Equal(t, 4, w.concurrency)
	assert.Equal(t, 8, w.prefetchCount)
}
