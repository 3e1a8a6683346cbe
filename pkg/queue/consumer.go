package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/histograph/histograph-sink/pkg/logging"
	"github.com/histograph/histograph-sink/pkg/router"
)

// Handler applies one translated record.
type Handler func(ctx context.Context, rec router.Record) error

// Client is the part of *redis.Client the consumer uses.
type Client interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// Stats counts what the consumer did with the messages it popped.
type Stats struct {
	Applied  atomic.Int64
	Failed   atomic.Int64
	Skipped  atomic.Int64
	Forwards atomic.Int64
}

// Consumer pops messages from a Redis list and hands them to a Handler.
type Consumer struct {
	client    Client
	queue     string
	doneQueue string
	handler   Handler
	logger    *zap.Logger

	// PopTimeout bounds each BRPOP so cancellation is noticed.
	PopTimeout time.Duration
	// ErrorBackoff is the pause after a Redis error.
	ErrorBackoff time.Duration

	Stats Stats
}

// NewConsumer creates a Consumer reading queue. Dataset-done messages are
// pushed to doneQueue.
func NewConsumer(client Client, queue, doneQueue string, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		client:       client,
		queue:        queue,
		doneQueue:    doneQueue,
		handler:      handler,
		logger:       logger.Named("queue"),
		PopTimeout:   5 * time.Second,
		ErrorBackoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. Malformed messages and handler
// failures are logged and do not stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consuming mutation queue", zap.String("queue", c.queue))

	for {
		if ctx.Err() != nil {
			return nil
		}

		result, err := c.client.BRPop(ctx, c.PopTimeout, c.queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to pop from queue",
				zap.String("queue", c.queue),
				zap.String("error", logging.SanitizeError(err)))
			select {
			case <-time.After(c.ErrorBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		// BRPOP replies with [key, value].
		if len(result) != 2 {
			c.logger.Warn("Unexpected BRPOP reply", zap.Int("length", len(result)))
			continue
		}
		c.Process(ctx, []byte(result[1]))
	}
}

// Process handles one raw message.
func (c *Consumer) Process(ctx context.Context, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		c.Stats.Skipped.Add(1)
		c.logger.Warn("Skipping malformed message",
			zap.String("payload", logging.TruncateString(string(raw), logging.MaxValueLogLength)),
			zap.Error(err))
		return
	}

	if msg.Type == DatasetDone {
		c.forwardDatasetDone(ctx, msg)
		return
	}

	rec, err := Translate(msg)
	if err != nil {
		c.Stats.Skipped.Add(1)
		c.logger.Warn("Skipping invalid message",
			zap.String("type", msg.Type),
			zap.String("action", msg.Action),
			zap.String("layer", msg.Layer),
			zap.Error(err))
		return
	}

	if err := c.handler(ctx, rec); err != nil {
		c.Stats.Failed.Add(1)
		return
	}
	c.Stats.Applied.Add(1)
}

func (c *Consumer) forwardDatasetDone(ctx context.Context, msg *Message) {
	if c.doneQueue == "" {
		c.Stats.Skipped.Add(1)
		return
	}
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		c.Stats.Skipped.Add(1)
		c.logger.Warn("Dataset-done message has no data, not forwarding",
			zap.String("layer", msg.Layer))
		return
	}
	if err := c.client.LPush(ctx, c.doneQueue, string(msg.Data)).Err(); err != nil {
		c.Stats.Failed.Add(1)
		c.logger.Error("Failed to forward dataset-done",
			zap.String("queue", c.doneQueue),
			zap.String("layer", msg.Layer),
			zap.String("error", logging.SanitizeError(err)))
		return
	}
	c.Stats.Forwards.Add(1)
	c.logger.Info("Dataset done", zap.String("layer", msg.Layer))
}
