package rabbitmq

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryQueueName(t *testing.T) {
	assert.Equal(t, "publish_jobs.retry.60000", RetryQueueName("publish_jobs", time.Minute))
	assert.Equal(t, "publish_jobs.retry.240000", RetryQueueName("publish_jobs", 4*time.Minute))
}

func TestRetryQueueArgs(t *testing.T) {
	cfg := &Config{ExchangeName: "publish", RoutingKey: "publish.job"}
	args := retryQueueArgs(cfg, 2*time.Minute)

	assert.Equal(t, int64(120000), args["x-message-ttl"])
	assert.Equal(t, "publish", args["x-dead-letter-exchange"])
	assert.Equal(t, "publish.job", args["x-dead-letter-routing-key"])
}

func TestPublishBackoff(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		want    time.Duration
	}{
		{name: "defaults first attempt", attempt: 0, want: 100 * time.Millisecond},
		{name: "defaults third attempt", attempt: 2, want: 400 * time.Millisecond},
		{name: "custom multiplier", cfg: Config{PublishRetryDelay: time.Second, PublishBackoffMult: 3}, attempt: 2, want: 9 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{config: &tt.cfg}
			assert.Equal(t, tt.want, c.publishBackoff(tt.attempt))
		})
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{
		config:      &Config{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		retryQueues: map[string]bool{},
	}

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(t.Context(), []byte("{}"), "application/json"), ErrNotConnected)
	assert.ErrorIs(t, c.PublishDelayed(t.Context(), []byte("{}"), "application/json", time.Minute), ErrNotConnected)
	assert.ErrorIs(t, c.Qos(1), ErrNotConnected)
}
