package kafka

import (
	"context"
	"encoding/json"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PRelay/module/presence"
	"PRelay/tools/errs"
)

// PresenceSink appends every presence change to a Kafka topic. Changes are
// keyed by user id, resyncs by node id, so consumers see a per-user order.
type PresenceSink struct {
	topic string
	node  string
	prod  sarama.SyncProducer
	log   *zap.Logger
}

func NewPresenceSink(prod sarama.SyncProducer, topic, node string, log *zap.Logger) *PresenceSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceSink{topic: topic, node: node, prod: prod, log: log}
}

// NewSyncProducer dials brokers with the shared base config.
func NewSyncProducer(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errs.ErrBroker.WrapMsg("kafka producer", "brokers", brokers, "err", err)
	}
	return p, nil
}

func (s *PresenceSink) Name() string { return "kafka" }

func (s *PresenceSink) Publish(_ context.Context, c presence.Change) error {
	val, err := json.Marshal(c)
	if err != nil {
		return errs.Wrap(err)
	}
	key := c.Entry.UserID
	if c.Kind == presence.KindResync || key == "" {
		key = s.node
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{Key: []byte("Relay-Node"), Value: []byte(s.node)},
			{Key: []byte("Relay-Event"), Value: []byte(c.Kind)},
		},
	}
	partition, offset, err := s.prod.SendMessage(msg)
	if err != nil {
		return errs.ErrBroker.WrapMsg("kafka send", "topic", s.topic, "err", err)
	}
	s.log.Debug("presence change appended", zap.String("topic", s.topic), zap.String("kind", string(c.Kind)),
		zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (s *PresenceSink) Close() error {
	return s.prod.Close()
}
