package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	dErrors "dealguard/pkg/domain-errors"
)

// KafkaPublisher writes events to a single topic, keyed by tenant so one
// tenant's events stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "kafka brokers and topic are required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	p := &KafkaPublisher{client: client, topic: topic, logger: logger}
	if err := p.ensureTopic(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

// ensureTopic creates the topic if the cluster does not have it yet.
func (p *KafkaPublisher) ensureTopic(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, 3, 1, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !strings.Contains(res.Err.Error(), "TOPIC_ALREADY_EXISTS") {
			return fmt.Errorf("create topic %s: %w", p.topic, res.Err)
		}
	}
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(event.TenantID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event %s: %w", event.Type, err)
	}
	p.logger.DebugContext(ctx, "event published",
		"type", event.Type,
		"tenant_id", event.TenantID,
	)
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
