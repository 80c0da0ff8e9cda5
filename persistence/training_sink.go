package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// TrainingSample is one classified utterance shipped to the retraining
// pipeline's queue.
type TrainingSample struct {
	Text       string  `json:"text"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// TrainingSampleSink publishes TrainingSamples to a durable AMQP queue
// for the (external) NLU retraining pipeline, alongside the Postgres
// TrainingSampleRepository. Grounded on the teacher's queue/rabbit.go
// RabbitMQService: same connect/declare-durable-queue/publish-JSON shape,
// rewritten around TrainingSample instead of FlowProcessMessage.
type TrainingSampleSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewTrainingSampleSink connects to amqpURL and declares queueName as a
// durable queue.
func NewTrainingSampleSink(amqpURL, queueName string) (*TrainingSampleSink, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	return &TrainingSampleSink{conn: conn, channel: ch, queue: queueName}, nil
}

// Publish ships one training sample. Best-effort by design: the
// Postgres TrainingSampleRepository is the durable record, this sink is
// an eager feed for retraining.
func (s *TrainingSampleSink) Publish(sample TrainingSample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal training sample: %w", err)
	}
	err = s.channel.Publish("", s.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish training sample: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *TrainingSampleSink) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
