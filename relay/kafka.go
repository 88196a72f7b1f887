package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/mengeric/finsync/task"
)

// KafkaSink 以任务 id 为 key 同步写入事件主题，同一任务的事件落在同一分区。
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink 构造。
func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// NewSyncProducer 按 brokers 创建同步生产者。
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	return sarama.NewSyncProducer(brokers, config)
}

func (s *KafkaSink) Name() string { return "kafka" }

// Send 一批快照一次 SendMessages。
func (s *KafkaSink) Send(ctx context.Context, recs []*task.Record) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", rec.ID, err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(rec.ID),
			Value: sarama.ByteEncoder(data),
		})
	}
	return s.producer.SendMessages(msgs)
}

// Close 关闭生产者。
func (s *KafkaSink) Close() error { return s.producer.Close() }
