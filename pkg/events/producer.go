// Package events publishes training-job lifecycle events to Kafka so
// downstream systems (schedulers, dashboards, alerting) can follow job
// progress without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/boostherd/boostherd/pkg/common/logger"
)

const (
	TypeJobQueued    = "job.queued"
	TypeJobStarted   = "job.started"
	TypeJobRestarted = "job.restarted"
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
)

type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	JobID     string                 `json:"job_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, eventType, jobID string, data map[string]interface{}) error {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(jobID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_type": eventType,
			"job_id":     jobID,
		}).Error("Failed to publish job event")
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
