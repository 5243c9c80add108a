package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// LocationProducer streams driver position updates to the location
// topic keyed by driver id, so a partition preserves per-driver order.
type LocationProducer struct {
	writer *kafka.Writer
}

func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationProducer{writer: w}
}

type LocationUpdate struct {
	DriverID string       `json:"driver_id"`
	Loc      models.Coord `json:"loc"`
	Updated  time.Time    `json:"updated"`
}

func (k *LocationProducer) PublishLocation(u LocationUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.DriverID), Value: b})
}

func (k *LocationProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// EventProducer publishes trip lifecycle events for notification and
// telemetry consumers.
type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

type envelope struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	EmittedAt time.Time `json:"emitted_at"`
	Payload   any       `json:"payload"`
}

func (k *EventProducer) PublishEvent(ctx context.Context, eventType, key string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(envelope{Type: eventType, Key: key, EmittedAt: time.Now(), Payload: payload})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *EventProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
