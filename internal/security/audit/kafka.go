// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes alerts to a topic, keyed by user so one identity's
// alerts stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("audit: kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 5 * time.Second,
		},
	}, nil
}

// PublishAlert implements [Publisher].
func (publisher *KafkaPublisher) PublishAlert(ctx context.Context, alert SecurityAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("audit: failed to encode alert: %w", err)
	}

	key := alert.ID
	if alert.UserID != nil {
		key = *alert.UserID
	}

	return publisher.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  alert.CreatedAt,
	})
}

// Close flushes pending writes.
func (publisher *KafkaPublisher) Close() error {
	return publisher.writer.Close()
}
