package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/leeforge/framework/plugin"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Message outcomes reported to the Observer.
const (
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
	StatusInvalid    = "invalid"
	StatusUnrouted   = "unrouted"
	StatusCommitFail = "commit_failed"
)

// Reader is the part of *kafka.Reader the consumer depends on.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Observer is notified of every consumed message.
type Observer interface {
	ObserveMessage(topic, status string)
}

// Consumer reads stream messages one at a time, publishes their payload on
// the bus under the message topic, and commits each message once its
// handlers have returned, whatever their outcome.
type Consumer struct {
	reader   Reader
	bus      plugin.EventBus
	logger   *zap.Logger
	observer Observer
}

// NewConsumer creates a new stream consumer.
func NewConsumer(reader Reader, bus plugin.EventBus, logger *zap.Logger, observer Observer) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader:   reader,
		bus:      bus,
		logger:   logger,
		observer: observer,
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("stream consumer started")
	defer c.logger.Info("stream consumer stopped")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		status := c.handle(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("commit offset failed",
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			status = StatusCommitFail
		}
		c.observe(m.Topic, status)
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) string {
	fields := []zap.Field{
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}
	c.logger.Info("handle stream message", fields...)

	env, err := DecodeEnvelope(m.Value)
	if err != nil {
		c.logger.Error("ignoring message", append(fields, zap.Error(err))...)
		return StatusInvalid
	}

	start := time.Now()
	err = c.bus.Publish(ctx, plugin.Event{
		Name:   m.Topic,
		Source: "kafka",
		Data:   env.Payload,
	})
	fields = append(fields, zap.Duration("elapsed", time.Since(start)))

	switch {
	case err == nil:
		c.logger.Info("message processed", fields...)
		return StatusProcessed
	case errors.Is(err, ErrNoSubscribers):
		c.logger.Warn("no handler for topic", fields...)
		return StatusUnrouted
	default:
		c.logger.Error("message processing failed", append(fields, zap.Error(err))...)
		return StatusFailed
	}
}

func (c *Consumer) observe(topic, status string) {
	if c.observer != nil {
		c.observer.ObserveMessage(topic, status)
	}
}
