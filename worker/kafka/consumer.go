package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// TaskMessage mirrors the producer-side payload.
type TaskMessage struct {
	TaskType    string `json:"task_type"`
	TraceID     string `json:"trace_id"`
	SourceURL   string `json:"source_url"`
	Fingerprint string `json:"fingerprint"`
	TargetWidth *int   `json:"target_width,omitempty"`
}

type MessageHandler func(ctx context.Context, msg *TaskMessage) error

type Consumer struct {
	consumer sarama.ConsumerGroup
	logger   *zap.Logger
}

func NewConsumer(brokers []string, groupID string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	// A broker restart must not take the worker down with it; ride out short
	// outages the same way the producer side does.
	var c sarama.ConsumerGroup
	err := connectWithBackoff(func() error {
		var err error
		c, err = sarama.NewConsumerGroup(brokers, groupID, config)
		return err
	}, defaultConnectAttempts, defaultConnectBudget, defaultConnectBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	return &Consumer{consumer: c, logger: logger}, nil
}

type consumerHandler struct {
	fn     MessageHandler
	ctx    context.Context
	logger *zap.Logger
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks every delivery after the handler returns, including on
// handler error: failed tasks surface as ERROR status, not as redelivery.
func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var taskMsg TaskMessage
		if err := json.Unmarshal(msg.Value, &taskMsg); err != nil {
			h.logger.Warn("Dropping undecodable message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			session.MarkMessage(msg, "")
			continue
		}

		if err := h.fn(h.ctx, &taskMsg); err != nil {
			h.logger.Error("Task handler failed",
				zap.String("trace_id", taskMsg.TraceID),
				zap.String("fingerprint", taskMsg.Fingerprint),
				zap.Error(err),
			)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// Consume joins the group and processes deliveries until ctx is cancelled.
// Sarama returns from a session on rebalance, so the loop rejoins.
func (c *Consumer) Consume(ctx context.Context, topic string, handler MessageHandler) error {
	h := &consumerHandler{fn: handler, ctx: ctx, logger: c.logger}
	for {
		if err := c.consumer.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
