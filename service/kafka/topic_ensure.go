package kafka

import (
	"errors"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PRelay/tools/errs"
)

// EnsureTopics creates missing topics and grows existing ones to the wanted
// partition count. Kafka cannot shrink partitions, so fewer is left alone.
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, partitions int32, rf int16, log *zap.Logger) error {
	minISR := "1"
	if rf >= 3 {
		minISR = "2"
	}
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return errs.ErrBroker.WrapMsg("describe topic", "topic", t, "err", err)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     partitions,
				ReplicationFactor: rf,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					log.Info("topic exists (race)", zap.String("topic", t))
					continue
				}
				return errs.ErrBroker.WrapMsg("create topic", "topic", t, "err", err)
			}
			log.Info("topic created", zap.String("topic", t), zap.Int32("partitions", partitions), zap.Int16("rf", rf))
			continue
		}

		cur := int32(len(descs[0].Partitions))
		if partitions > cur {
			if err := admin.CreatePartitions(t, partitions, nil, false); err != nil {
				return errs.ErrBroker.WrapMsg("expand partitions", "topic", t,
					"from", cur, "to", partitions, "err", err)
			}
			log.Info("topic partitions expanded", zap.String("topic", t), zap.Int32("from", cur), zap.Int32("to", partitions))
			continue
		}
		log.Debug("topic exists", zap.String("topic", t), zap.Int32("partitions", cur))
	}
	return nil
}

func strPtr(s string) *string { return &s }
