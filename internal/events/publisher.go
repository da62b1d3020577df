package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

const TopicStateChanged = "terminal.state.changed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes interaction state changes keyed by order reference,
// so every change of one order lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers),
		Topic:    TopicStateChanged,
		Balancer: &kafka.Hash{},
	}
}

func (p *KafkaPublisher) PublishStateChange(ctx context.Context, event models.StateChange) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode state change: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderRef),
		Value: eventJSON,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "provider", Value: []byte(event.Provider)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish state change for %s: %w", event.OrderRef, err)
	}
	return nil
}
