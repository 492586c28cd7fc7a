// Package kafka publishes completed-transaction events to a Kafka topic.
// Publishing is best-effort: the engine never fails an operation because
// an event could not be written, so errors here are logged and dropped.
package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/coldriver/bankcore/ledger"
)

const defaultTopic = "transaction_completed"

// TransactionCompletedEvent is the wire shape of a completed transaction.
type TransactionCompletedEvent struct {
	TransactionID string    `json:"transactionId"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	FromAccountID string    `json:"fromAccountId,omitempty"`
	ToAccountID   string    `json:"toAccountId,omitempty"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// Publisher writes events to Kafka. Implements ledger.EventPublisher.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    defaultTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *Publisher) TransactionCompleted(ctx context.Context, tx ledger.Transaction) {
	event := TransactionCompletedEvent{
		TransactionID: tx.TransactionID,
		Type:          string(tx.Type),
		Amount:        tx.Amount.String(),
		FromAccountID: tx.FromAccountID,
		ToAccountID:   tx.ToAccountID,
	}
	if tx.ProcessedAt != nil {
		event.ProcessedAt = *tx.ProcessedAt
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("kafka: marshal event %s: %v", tx.TransactionID, err)
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.TransactionID),
		Value: data,
	})
	if err != nil {
		log.Printf("kafka: publish %s: %v", tx.TransactionID, err)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ ledger.EventPublisher = (*Publisher)(nil)
