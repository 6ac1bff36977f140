package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sethvargo/go-retry"

	"github.com/realm-tycoon/economy-server/internal/config"
	"github.com/realm-tycoon/economy-server/internal/domain"
)

// ErrStartupTimeout is returned by Start when no consumer session was
// established within the configured startup timeout.
var ErrStartupTimeout = errors.New("kafka consumer did not become ready")

const maxConsumeBackoff = 10 * time.Second

// ScoreIngester admits scores reported by trusted game servers
type ScoreIngester interface {
	IngestScore(ctx context.Context, msg domain.ScoreMessage) error
}

// Consumer consumes score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	ingester      ScoreIngester
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, ingester ScoreIngester, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, ingester, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, ingester ScoreIngester, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		ingester:      ingester,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins consuming messages from Kafka. It returns once the first
// session is set up, or fails with ErrStartupTimeout and releases the
// consumer group.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.ScoreTopic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan struct{})
	handler := &consumerGroupHandler{
		consumer: c,
		ready:    ready,
		once:     &sync.Once{},
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		backoff := newConsumeBackoff()
		for {
			err := c.consumerGroup.Consume(c.ctx, []string{c.config.ScoreTopic}, handler)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || c.ctx.Err() != nil {
				return
			}
			if err == nil {
				// rebalance
				backoff = newConsumeBackoff()
				continue
			}

			delay, _ := backoff.Next()
			c.logger.Error("error from consumer", "error", err, "retry_in", delay)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()

	timeout := c.config.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Wait until consumer is ready
	select {
	case <-ready:
		c.logger.Info("Kafka consumer ready")
	case <-timer.C:
		c.cancel()
		c.wg.Wait()
		if err := c.consumerGroup.Close(); err != nil {
			c.logger.Warn("failed to close consumer group", "error", err)
		}
		return fmt.Errorf("%w after %s", ErrStartupTimeout, timeout)
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

func newConsumeBackoff() retry.Backoff {
	return retry.WithCappedDuration(maxConsumeBackoff, retry.NewExponential(100*time.Millisecond))
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// ingest runs one score through the economy. Client errors are final;
// anything else is retried with a constant backoff.
func (c *Consumer) ingest(ctx context.Context, msg domain.ScoreMessage) error {
	delay := c.config.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(c.config.RetryAttempts), retry.NewConstant(delay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.ingester.IngestScore(ctx, msg)
		if err != nil && !domain.IsClientError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan struct{}
	once     *sync.Once
}

// Setup is called at the beginning of a new session; the first one
// releases Start.
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are
// marked once the batch holding the message has been ingested.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger
	batch := make([]domain.ScoreMessage, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if last == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		admitted := 0
		for _, msg := range batch {
			if err := h.consumer.ingest(ctx, msg); err != nil {
				logger.Warn("score rejected",
					"player_id", msg.PlayerID,
					"category", msg.Category,
					"value", msg.Value,
					"error", err,
				)
				continue
			}
			admitted++
		}
		logger.Debug("processed batch", "batch_size", len(batch), "admitted", admitted)

		session.MarkMessage(last, "")
		batch = batch[:0]
		last = nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			last = message

			var msg domain.ScoreMessage
			if err := json.Unmarshal(message.Value, &msg); err != nil {
				logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			if msg.PlayerID == "" || msg.Category == "" {
				logger.Warn("invalid score message",
					"player_id", msg.PlayerID,
					"category", msg.Category,
				)
				continue
			}

			batch = append(batch, msg)
			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
