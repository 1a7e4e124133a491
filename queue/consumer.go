package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	unackedKeyPrefix = "unacked:"
	popBlockTimeout  = 5 * time.Second
	brokerRetryDelay = 2 * time.Second
)

// MessageHandler processes one delivery. Its return value is logged only;
// the entry is acknowledged either way, since per-job failures are recorded
// in the job store, not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer pulls one message at a time from a queue with late acknowledgment:
// each entry is moved to a per-node unacked list before the handler runs and
// removed only after the handler returns. A worker that dies mid-task leaves
// the entry on its unacked list, and Recover puts it back on the queue at the
// next startup, so execution is at-least-once.
type Consumer struct {
	client *redis.Client
	queue  string
	node   string
	logger *zap.Logger
}

func NewConsumer(client *redis.Client, queueName, nodeName string, logger *zap.Logger) *Consumer {
	return &Consumer{
		client: client,
		queue:  queueName,
		node:   nodeName,
		logger: logger,
	}
}

func (c *Consumer) unackedKey() string {
	return unackedKeyPrefix + c.node
}

// Recover requeues deliveries left unacknowledged by a previous process with
// this node identity. Returns the number of redeliveries.
func (c *Consumer) Recover(ctx context.Context) int {
	requeued := 0
	for {
		_, err := c.client.LMove(ctx, c.unackedKey(), c.queue, "RIGHT", "LEFT").Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.logger.Error("Requeue of unacked delivery failed", zap.Error(err))
			}
			break
		}
		requeued++
	}
	if requeued > 0 {
		c.logger.Warn("Redelivered unacked tasks from previous run",
			zap.String("node", c.node),
			zap.Int("count", requeued),
		)
	}
	return requeued
}

// Consume blocks, delivering messages to the handler one at a time until the
// context is cancelled. Exactly one message is in flight per consumer.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := c.client.BLMove(ctx, c.queue, c.unackedKey(), "RIGHT", "LEFT", popBlockTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Broker read failed", zap.Error(err))
			select {
			case <-time.After(brokerRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			c.logger.Error("Discarding malformed queue entry", zap.Error(err))
			c.ack(ctx, raw)
			continue
		}

		if err := handler(ctx, &msg); err != nil {
			c.logger.Error("Handler returned error",
				zap.String("task_id", msg.TaskID),
				zap.Error(err),
			)
		}

		// Late ack: the entry leaves the broker only after the handler ran.
		c.ack(ctx, raw)
	}
}

func (c *Consumer) ack(ctx context.Context, raw string) {
	if err := c.client.LRem(ctx, c.unackedKey(), 1, raw).Err(); err != nil {
		c.logger.Error("Ack failed", zap.Error(err))
	}
}
