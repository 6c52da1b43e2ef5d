package mq

import (
	"log"

	"creditledger/internal/config"

	"github.com/IBM/sarama"
)

// Producer publishes outbox messages. It is a narrow interface so the outbox
// sender job can run against an in-memory fake in tests.
type Producer interface {
	Send(topic, key, value string) error
	Close() error
}

type kafkaProducer struct {
	producer sarama.SyncProducer
}

// InitKafka creates the sync producer. All-replica acks: a settlement event
// reported sent must survive a broker failure.
func InitKafka(cfg *config.KafkaConfig) Producer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("create kafka producer: %v", err)
	}

	return &kafkaProducer{producer: producer}
}

func (p *kafkaProducer) Send(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *kafkaProducer) Close() error {
	return p.producer.Close()
}
