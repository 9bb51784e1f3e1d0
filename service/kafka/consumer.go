package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PRelay/tools/errs"
	"PRelay/tools/safe"
)

// Injector accepts routed frames from back-end producers.
type Injector interface {
	Inject(raw []byte) error
}

// SendConsumer reads {"event","data"} frames from the send topic and hands
// them to the hub. Offsets are marked after injection, so a crash replays at
// most the unacknowledged tail.
type SendConsumer struct {
	group  sarama.ConsumerGroup
	topics []string
	hub    Injector
	log    *zap.Logger

	// retry delay after a failed Consume, doubled up to retryMax
	retryMin time.Duration
	retryMax time.Duration
}

func NewSendConsumer(brokers []string, groupID string, topics []string, cfg *sarama.Config, hub Injector, log *zap.Logger) (*SendConsumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, errs.ErrBroker.WrapMsg("kafka consumer group", "group", groupID, "err", err)
	}
	return newSendConsumer(group, topics, hub, log), nil
}

func newSendConsumer(group sarama.ConsumerGroup, topics []string, hub Injector, log *zap.Logger) *SendConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SendConsumer{
		group:    group,
		topics:   topics,
		hub:      hub,
		log:      log,
		retryMin: 500 * time.Millisecond,
		retryMax: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled, rejoining the group after each
// rebalance.
func (c *SendConsumer) Run(ctx context.Context) error {
	safe.Go("kafka-group-errors", func() {
		for err := range c.group.Errors() {
			c.log.Warn("consumer group error", zap.Error(err))
		}
	})
	defer c.group.Close()
	delay := c.retryMin
	for {
		err := c.group.Consume(ctx, c.topics, c)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = c.retryMin
			continue
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		c.log.Warn("consume error, retrying", zap.Duration("in", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > c.retryMax {
			delay = c.retryMax
		}
	}
}

func (c *SendConsumer) Setup(s sarama.ConsumerGroupSession) error {
	c.log.Info("consumer group joined", zap.Any("claims", s.Claims()))
	return nil
}

func (c *SendConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.log.Info("consumer group left")
	return nil
}

func (c *SendConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.hub.Inject(msg.Value); err != nil {
				// hub stopped; leave the offset for the next owner
				return err
			}
			c.log.Debug("frame injected", zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
