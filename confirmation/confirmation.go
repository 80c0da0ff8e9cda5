// Package confirmation delivers the pending-attribute confirmation
// questions the Preference Enricher raises (spec §4.8, "0.70-0.85
// confidence: persist as pending, schedule a confirmation question"),
// decoupled from the live turn that triggered them since the spec treats
// enrichment as fire-and-forget. Grounded on worker/pool.go's generic
// Queue/JobProcessor pool (kept verbatim) paired with a single Redis-list
// Queue implementation in the style of session/queue.go's
// RPush/BLPop PerRecipientQueue, narrowed from per-recipient depth
// capping to one shared delivery queue since confirmations are low
// volume and best-effort.
package confirmation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"flowline.dev/channel"
	"flowline.dev/common"
	"flowline.dev/log"
	"flowline.dev/session"
	"flowline.dev/worker"
)

const queueKey = "confirmations:pending"

// Job is one queued confirmation question awaiting delivery. Key/Value
// identify the pending profile attribute the question is about, so that
// once it is actually delivered the recipient's session can be marked as
// awaiting an answer to that specific key (spec §4.8).
type Job struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Platform    string `json:"platform"`
	Question    string `json:"question"`
	Key         string `json:"key"`
	Value       string `json:"value"`
}

// Queue implements worker.Queue over a single Redis list. Confirmations
// are at-least-once and idempotent to re-ask, so MarkProcessing/
// CompleteJob/FailJob are no-ops beyond logging rather than full
// visibility-timeout bookkeeping.
type Queue struct {
	client *redis.Client
	logger *log.Logger
}

func NewQueue(client *redis.Client, logger *log.Logger) *Queue {
	return &Queue{client: client, logger: logger}
}

func (q *Queue) Enqueue(job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal confirmation job: %w", err)
	}
	return q.client.RPush(context.Background(), queueKey, data).Err()
}

func (q *Queue) Dequeue(queueName string, timeout time.Duration) (interface{}, error) {
	result, err := q.client.BLPop(context.Background(), timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue confirmation job: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal confirmation job: %w", err)
	}
	return job, nil
}

func (q *Queue) MarkProcessing(jobID string, deadline time.Time) error { return nil }

func (q *Queue) CompleteJob(jobID string) error {
	q.logger.WithField("job_id", jobID).Debug("confirmation delivered")
	return nil
}

func (q *Queue) FailJob(jobID string, requeue bool, queueName string, retryCount int) error {
	q.logger.WithField("job_id", jobID).Warn("confirmation delivery failed")
	return nil
}

// Sink is the preference.ConfirmationSink implementation that enqueues
// onto Queue rather than sending inline.
type Sink struct {
	queue *Queue
}

func NewSink(queue *Queue) *Sink { return &Sink{queue: queue} }

func (s *Sink) EnqueueConfirmation(ctx context.Context, recipientID, key, value, question string) error {
	return s.queue.Enqueue(Job{
		ID:          recipientID + ":" + key,
		RecipientID: recipientID,
		Question:    question,
		Key:         key,
		Value:       value,
	})
}

// Processor delivers one Job through the Outbound Dispatcher, then marks
// the recipient's session as awaiting a reply to that specific key
// (session.PendingConfirmation) so the Conversation Service can
// interpret the next inbound message as the answer rather than routing
// it as an ordinary turn.
type Processor struct {
	dispatcher *channel.Dispatcher
	sessions   session.Store
	logger     *log.Logger
}

func NewProcessor(dispatcher *channel.Dispatcher, sessions session.Store, logger *log.Logger) *Processor {
	return &Processor{dispatcher: dispatcher, sessions: sessions, logger: logger}
}

func (p *Processor) GetJobID(job interface{}) string {
	j, ok := job.(Job)
	if !ok {
		return ""
	}
	return j.ID
}

func (p *Processor) GetTimeout(job interface{}) time.Duration { return 5 * time.Second }

func (p *Processor) Process(ctx context.Context, job interface{}) error {
	j, ok := job.(Job)
	if !ok {
		return fmt.Errorf("confirmation processor: unexpected job type %T", job)
	}
	platform := common.Platform(j.Platform)
	if platform == "" {
		if sess, found, err := p.sessions.Get(ctx, j.RecipientID); err == nil && found {
			platform = sess.Platform
		}
	}
	if err := p.dispatcher.Send(ctx, common.OutboundMessage{
		Kind:        common.OutboundText,
		RecipientID: j.RecipientID,
		Platform:    platform,
		Text:        j.Question,
	}); err != nil {
		return err
	}

	if err := p.sessions.SetData(ctx, j.RecipientID, "pending_confirmation", &session.PendingConfirmation{
		Key:   j.Key,
		Value: j.Value,
	}); err != nil {
		p.logger.WithError(err).WithField("recipient_id", j.RecipientID).Warn("failed to stash pending confirmation")
	}
	return nil
}

// NewPool wires Queue+Processor into a single-queue worker.Pool.
func NewPool(queue *Queue, processor *Processor) *worker.Pool {
	return worker.NewPool(queue, processor, worker.Config{
		Queues: map[string]int{"confirmations": 1},
	})
}
