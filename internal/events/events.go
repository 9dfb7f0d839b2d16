// Package events publishes completed assessments to downstream consumers:
// a Kafka topic and the realtime WebSocket hub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/metrics"
	"github.com/LukasBures/olynthus/internal/realtime"
)

// TypeAssessment is the event type of a completed assessment.
const TypeAssessment = "assessment.completed"

// Event is one published record. Subject, Chain and Result route and filter
// the event; Data is the payload.
type Event struct {
	Type    string
	Time    time.Time
	Subject string
	Chain   string
	Result  string
	Data    any
}

// Envelope is the wire form of an Event.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// Encode renders e as an Envelope.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("events: marshal data: %w", err)
	}
	return json.Marshal(Envelope{Type: e.Type, TS: e.Time.UnixMilli(), Data: data})
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// KafkaSink writes events to a topic with a sync producer, keyed by
// subject so one wallet's events stay ordered.
type KafkaSink struct {
	topic    string
	client   sarama.Client
	producer sarama.SyncProducer
}

// NewKafkaSink connects to brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: no kafka brokers")
	}
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: kafka client: %w", err)
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("events: kafka producer: %w", err)
	}
	s := NewKafkaSinkWithProducer(p, topic)
	s.client = client
	return s, nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, producer: p}
}

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(e)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(b),
	}
	if e.Subject != "" {
		msg.Key = sarama.StringEncoder(e.Subject)
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("events: kafka send: %w", err)
	}
	return nil
}

// Ping refreshes cluster metadata. A sink built over a bare producer has
// nothing to ask and always reports healthy.
func (s *KafkaSink) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("events: kafka metadata: %w", err)
	}
	return nil
}

// Close closes the producer and, when the sink owns it, the client.
func (s *KafkaSink) Close() error {
	err := s.producer.Close()
	if s.client != nil && !s.client.Closed() {
		err = errors.Join(err, s.client.Close())
	}
	return err
}

// HubSink forwards events to WebSocket clients.
type HubSink struct {
	hub *realtime.Hub
}

// NewHubSink wraps hub.
func NewHubSink(hub *realtime.Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Publish(_ context.Context, e Event) error {
	s.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventAssessment,
		Timestamp: e.Time,
		Data:      e.Data,
		Result:    e.Result,
		Chain:     e.Chain,
		Subject:   e.Subject,
	})
	return nil
}

// Multi publishes to every named sink. A failing sink is logged and counted
// and does not stop the others.
type Multi struct {
	sinks  map[string]Sink
	order  []string
	logger *slog.Logger
}

// NewMulti creates an empty fan-out.
func NewMulti(logger *slog.Logger) *Multi {
	return &Multi{sinks: map[string]Sink{}, logger: logging.Component(logger, "events")}
}

// Add registers a sink under name.
func (m *Multi) Add(name string, s Sink) *Multi {
	if _, ok := m.sinks[name]; !ok {
		m.order = append(m.order, name)
	}
	m.sinks[name] = s
	return m
}

// Len is the number of sinks.
func (m *Multi) Len() int { return len(m.order) }

// Publish returns the joined errors of all failing sinks.
func (m *Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, name := range m.order {
		err := m.sinks[name].Publish(ctx, e)
		metrics.EventsPublishedTotal.WithLabelValues(name, metrics.Outcome(err)).Inc()
		if err != nil {
			m.logger.Warn("event publish failed", "sink", name, "type", e.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
