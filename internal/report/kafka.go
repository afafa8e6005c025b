package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Partitions and ReplicationFactor are used when the topic has to be created.
	Partitions        int32
	ReplicationFactor int16
	ClientID          string
}

func (c KafkaConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("report: kafka brokers are required")
	}
	if c.Topic == "" {
		return errors.New("report: kafka topic is required")
	}
	return nil
}

// KafkaPublisher mirrors report records to a Kafka topic, keyed by variant.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher connects to the brokers and creates the topic if missing.
func NewKafkaPublisher(ctx context.Context, cfg KafkaConfig) (*KafkaPublisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("report: kafka client: %w", err)
	}

	if err := ensureTopic(ctx, kadm.NewClient(client), cfg); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic}, nil
}

func ensureTopic(ctx context.Context, adm *kadm.Client, cfg KafkaConfig) error {
	resps, err := adm.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, nil, cfg.Topic)
	if err != nil {
		return fmt.Errorf("report: create topic %s: %w", cfg.Topic, err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("report: create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

func kafkaRecords(topic string, records []Record) []*kgo.Record {
	out := make([]*kgo.Record, len(records))
	for i, rec := range records {
		out[i] = &kgo.Record{
			Topic: topic,
			Key:   []byte(rec.Variant.String()),
			Value: []byte(rec.String()),
			Headers: []kgo.RecordHeader{
				{Key: "type", Value: []byte(rec.Type)},
			},
		}
	}
	return out
}

// Publish produces the records synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := p.client.ProduceSync(ctx, kafkaRecords(p.topic, records)...).FirstErr(); err != nil {
		return fmt.Errorf("report: produce to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending records and closes the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
