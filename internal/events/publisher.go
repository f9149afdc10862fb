// Package events carries lobby traffic to and from the game collaborator
// over Kafka: activations out, match outcomes in.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fastprodman/gamezone/internal/services/lobby"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes lobby activations keyed by lobby id, so every message
// about one lobby lands on the same partition.
type Publisher struct {
	w messageWriter
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(w messageWriter) *Publisher {
	return &Publisher{w: w}
}

// PublishActivation implements lobby.Publisher.
func (p *Publisher) PublishActivation(ctx context.Context, a lobby.Activation) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal activation: %w", err)
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.LobbyID.String()),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("write activation %s: %w", a.LobbyID, err)
	}

	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
