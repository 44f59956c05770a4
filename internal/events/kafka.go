// Package events publishes orchestrator lifecycle events to Kafka and to
// the structured log, and follows a topic back for watchers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/orchestrator"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "papercast.events"

var _ orchestrator.EventSink = (*KafkaSink)(nil)

// KafkaSink publishes each event as JSON, keyed by job id so one job's
// events stay ordered within a partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaSink connects a synchronous producer to brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer: %w", err)
	}
	return NewKafkaSinkFromProducer(p, topic, logger), nil
}

// NewKafkaSinkFromProducer wraps an existing producer.
func NewKafkaSinkFromProducer(p sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{producer: p, topic: topic, logger: logger}
}

// Emit sends ev. Delivery failures are logged; the pipeline never waits on
// a retry.
func (k *KafkaSink) Emit(ev orchestrator.Event) {
	if err := k.Send(ev); err != nil {
		k.logger.Warn("event publish failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("job_id", ev.JobID),
			zap.Error(err),
		)
	}
}

// Send publishes ev and reports the delivery error.
func (k *KafkaSink) Send(ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.JobID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: send %s: %w", ev.Kind, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

// ---------- Consumer ----------

// Handler receives one decoded event.
type Handler func(ctx context.Context, ev orchestrator.Event) error

// Follower reads events back from a topic through a consumer group.
type Follower struct {
	group  sarama.ConsumerGroup
	logger *zap.Logger
}

// NewFollower joins groupID on brokers, starting from the oldest offset.
func NewFollower(brokers []string, groupID string, logger *zap.Logger) (*Follower, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	g, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("kafka: new consumer group: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{group: g, logger: logger}, nil
}

// Follow consumes topic until ctx is done. Consume returns after each
// rebalance, so it is called in a loop.
func (f *Follower) Follow(ctx context.Context, topic string, fn Handler) error {
	h := &consumerHandler{fn: fn, logger: f.logger}
	for {
		if err := f.group.Consume(ctx, []string{topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("kafka: consume %s: %w", topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (f *Follower) Close() error {
	return f.group.Close()
}

type consumerHandler struct {
	fn     Handler
	logger *zap.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev orchestrator.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			h.logger.Warn("skipping malformed event",
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			session.MarkMessage(msg, "")
			continue
		}
		if err := h.fn(session.Context(), ev); err != nil {
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
