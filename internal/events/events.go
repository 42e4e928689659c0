// Package events publishes completed turns to Kafka.
//
// When no brokers are configured the [Publisher] runs in log-only mode: it
// marshals the event, logs it at debug level and returns nil. Publishing is
// best effort from the turn worker's point of view; the caller logs failures
// and carries on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrWong99/earshot/internal/observe"
)

// DefaultTopic receives turn events when no topic is configured.
const DefaultTopic = "earshot.turns"

// TurnEvent is the JSON payload of one completed turn.
type TurnEvent struct {
	UtteranceID string    `json:"utterance_id"`
	Source      string    `json:"source"`
	StartMs     int64     `json:"start_ms"`
	EndMs       int64     `json:"end_ms"`
	Transcript  string    `json:"transcript"`
	Reply       string    `json:"reply"`
	AudioMs     int64     `json:"audio_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string

	// Source is copied into the "source" header, e.g. the host name.
	Source string
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes turn events. A nil *Publisher is valid and drops events.
type Publisher struct {
	writer  messageWriter
	topic   string
	source  string
	metrics *observe.Metrics
}

// New creates a publisher. With no brokers it runs in log-only mode.
func New(cfg Config, m *observe.Metrics) *Publisher {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	p := &Publisher{topic: topic, source: cfg.Source, metrics: m}
	if len(cfg.Brokers) == 0 {
		slog.Info("events: kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{Dial: dialer.DialFunc},
	}
	slog.Info("events: kafka publisher initialized", "brokers", cfg.Brokers, "topic", topic)
	return p
}

// Enabled reports whether events reach a broker.
func (p *Publisher) Enabled() bool { return p != nil && p.writer != nil }

// Publish writes ev keyed by its utterance ID.
func (p *Publisher) Publish(ctx context.Context, ev TurnEvent) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	slog.Debug("events: publishing turn", "topic", p.topic, "utterance", ev.UtteranceID, "payload", string(payload))

	if p.writer == nil {
		p.metrics.RecordEventPublish(ctx, nil)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.UtteranceID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("turn.completed")},
			{Key: "source", Value: []byte(p.source)},
		},
	}
	err = p.writer.WriteMessages(ctx, msg)
	p.metrics.RecordEventPublish(ctx, err)
	if err != nil {
		return fmt.Errorf("events: write to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the Kafka writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("events: close writer: %w", err)
	}
	return nil
}
