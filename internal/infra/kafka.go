package infra

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// FeedProducer wraps a kafka-go writer for publishing table feed events.
// If brokers is empty or disabled, publishes are no-ops so the bet pipeline
// never depends on Kafka availability.
type FeedProducer struct {
	writer  *kafka.Writer
	topic   string
	logger  *slog.Logger
	enabled bool
}

// NewFeedProducer creates a feed-event producer.
func NewFeedProducer(brokers, topic string, enabled bool, logger *slog.Logger) *FeedProducer {
	if !enabled || brokers == "" {
		logger.Info("feed producer disabled")
		return &FeedProducer{enabled: false, logger: logger}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("feed producer initialized", "brokers", brokers, "topic", topic)
	return &FeedProducer{writer: w, topic: topic, logger: logger, enabled: true}
}

// Publish sends a feed event keyed by table so consumers see per-table order.
// No-op if disabled.
func (p *FeedProducer) Publish(ctx context.Context, tableID string, value []byte) error {
	if !p.enabled {
		return nil
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(tableID),
		Value: value,
	})
}

// Close shuts down the Kafka writer.
func (p *FeedProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// FeedConsumer wraps a kafka-go reader for tailing the feed topic.
type FeedConsumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	enabled bool
}

// NewFeedConsumer creates a consumer for the feed topic in the given group.
func NewFeedConsumer(brokers, topic, groupID string, enabled bool, logger *slog.Logger) *FeedConsumer {
	if !enabled || brokers == "" {
		return &FeedConsumer{enabled: false, logger: logger}
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &FeedConsumer{reader: r, logger: logger, enabled: true}
}

// Enabled reports whether the consumer has a live reader.
func (c *FeedConsumer) Enabled() bool { return c.enabled }

// ReadMessage blocks until the next feed event is available.
func (c *FeedConsumer) ReadMessage(ctx context.Context) (kafka.Message, error) {
	return c.reader.ReadMessage(ctx)
}

// Close shuts down the Kafka reader.
func (c *FeedConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
