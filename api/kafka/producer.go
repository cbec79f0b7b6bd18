package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

const TaskTypeProcessURL = "process_url"

// TaskMessage is the queue payload. Idempotent by fingerprint: redelivery of
// the same message is harmless because the worker's output paths are derived
// from the fingerprint.
type TaskMessage struct {
	TaskType    string `json:"task_type"`
	TraceID     string `json:"trace_id"`
	SourceURL   string `json:"source_url"`
	Fingerprint string `json:"fingerprint"`
	TargetWidth *int   `json:"target_width,omitempty"`
}

type QueueInfo struct {
	Pending   int64 `json:"pending"`
	Consumers int   `json:"consumers"`
}

type Producer interface {
	Enqueue(ctx context.Context, msg *TaskMessage) error
	EnqueueBulk(ctx context.Context, msgs []*TaskMessage) error
	QueueInfo(ctx context.Context) (*QueueInfo, error)
	Close() error
}

type producer struct {
	client   sarama.Client
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	topic    string
	groupID  string
}

func NewProducer(brokers []string, topic, groupID string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	var client sarama.Client
	err := connectWithBackoff(func() error {
		var err error
		client, err = sarama.NewClient(brokers, config)
		return err
	}, defaultConnectAttempts, defaultConnectBudget, defaultConnectBaseDelay)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, err
	}

	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		p.Close()
		client.Close()
		return nil, err
	}

	return &producer{
		client:   client,
		producer: p,
		admin:    admin,
		topic:    topic,
		groupID:  groupID,
	}, nil
}

func (p *producer) Enqueue(ctx context.Context, msg *TaskMessage) error {
	m, err := buildMessage(p.topic, msg)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(m)
	return err
}

// EnqueueBulk publishes N messages in one call. There is no atomicity across
// the batch; a mid-batch failure leaves earlier messages delivered, which is
// acceptable because each task is independently idempotent by fingerprint.
func (p *producer) EnqueueBulk(ctx context.Context, msgs []*TaskMessage) error {
	batch := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, msg := range msgs {
		m, err := buildMessage(p.topic, msg)
		if err != nil {
			return err
		}
		batch = append(batch, m)
	}
	return p.producer.SendMessages(batch)
}

// QueueInfo reports queue depth (log end offsets minus committed consumer
// group offsets) and the number of live group members.
func (p *producer) QueueInfo(ctx context.Context) (*QueueInfo, error) {
	partitions, err := p.client.Partitions(p.topic)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	offsets, err := p.admin.ListConsumerGroupOffsets(p.groupID, map[string][]int32{p.topic: partitions})
	if err != nil {
		return nil, fmt.Errorf("list group offsets: %w", err)
	}

	var pending int64
	for _, partition := range partitions {
		newest, err := p.client.GetOffset(p.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return nil, fmt.Errorf("newest offset for partition %d: %w", partition, err)
		}

		committed := int64(-1)
		if block := offsets.GetBlock(p.topic, partition); block != nil {
			committed = block.Offset
		}
		if committed < 0 {
			// No commit yet for this partition; everything retained counts.
			oldest, err := p.client.GetOffset(p.topic, partition, sarama.OffsetOldest)
			if err != nil {
				return nil, fmt.Errorf("oldest offset for partition %d: %w", partition, err)
			}
			committed = oldest
		}
		if newest > committed {
			pending += newest - committed
		}
	}

	consumers := 0
	if groups, err := p.admin.DescribeConsumerGroups([]string{p.groupID}); err == nil && len(groups) > 0 {
		consumers = len(groups[0].Members)
	}

	return &QueueInfo{Pending: pending, Consumers: consumers}, nil
}

func (p *producer) Close() error {
	err := p.producer.Close()
	// Closing the admin also closes the shared client.
	if cerr := p.admin.Close(); err == nil {
		err = cerr
	}
	return err
}

func buildMessage(topic string, msg *TaskMessage) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(msg.Fingerprint),
		Value: sarama.ByteEncoder(data),
	}, nil
}
