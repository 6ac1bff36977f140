package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/domain"
)

// Producer publishes economy events and trusted score messages. Messages are
// keyed by player id so one player's records stay ordered within a partition.
type Producer struct {
	producer   sarama.SyncProducer
	eventTopic string
	scoreTopic string
	logger     *slog.Logger
}

// NewProducer creates a synchronous producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerFromSync(producer, cfg, logger), nil
}

// NewProducerFromSync wraps an existing sync producer
func NewProducerFromSync(producer sarama.SyncProducer, cfg *config.KafkaConfig, logger *slog.Logger) *Producer {
	return &Producer{
		producer:   producer,
		eventTopic: cfg.EventTopic,
		scoreTopic: cfg.ScoreTopic,
		logger:     logger,
	}
}

// Publish sends an economy event to the event topic
func (p *Producer) Publish(ctx context.Context, event domain.Event) error {
	return p.send(ctx, p.eventTopic, event.PlayerID, event)
}

// SendScore sends a trusted score message to the score topic
func (p *Producer) SendScore(ctx context.Context, msg domain.ScoreMessage) error {
	return p.send(ctx, p.scoreTopic, msg.PlayerID, msg)
}

func (p *Producer) send(ctx context.Context, topic, key string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", topic, err)
	}

	p.logger.Debug("message sent", "topic", topic, "key", key, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
