package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"flowline.dev/common"
)

// RawMessage is a stored conversation turn as read back from the
// database, before the caller decodes Body into an Inbound/OutboundMessage.
type RawMessage struct {
	Direction string
	Kind      string
	Body      []byte
	CreatedAt time.Time
}

// MessageRepository appends conversation turns, grounded on the
// teacher's append-only RabbitLog write pattern (marshal to JSON, single
// INSERT, no update-in-place) — used for transcript replay and as the
// NLU training-sample source feed.
type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// AppendInbound records a user turn.
func (r *MessageRepository) AppendInbound(ctx context.Context, recipientID string, msg common.InboundMessage) error {
	return r.append(ctx, recipientID, "inbound", inboundKind(msg), msg)
}

func inboundKind(msg common.InboundMessage) string {
	switch {
	case msg.ButtonsReply != nil:
		return "button_reply"
	case msg.Location != nil:
		return "location"
	case len(msg.Attachments) > 0:
		return msg.Attachments[0].Type
	default:
		return "text"
	}
}

// AppendOutbound records an assistant turn.
func (r *MessageRepository) AppendOutbound(ctx context.Context, recipientID string, msg common.OutboundMessage) error {
	return r.append(ctx, recipientID, "outbound", string(msg.Kind), msg)
}

func (r *MessageRepository) append(ctx context.Context, recipientID, direction, kind string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message body: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversation_messages (recipient_id, direction, kind, body)
		VALUES ($1, $2, $3, $4)
	`, recipientID, direction, kind, raw)
	if err != nil {
		return fmt.Errorf("append %s message for %s: %w", direction, recipientID, err)
	}
	return nil
}

// Recent returns up to limit of the most recent messages for a
// recipient, oldest first, for transcript replay/debugging.
func (r *MessageRepository) Recent(ctx context.Context, recipientID string, limit int) ([]RawMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT direction, kind, body, created_at FROM conversation_messages
		WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", recipientID, err)
	}
	defer rows.Close()

	var out []RawMessage
	for rows.Next() {
		var m RawMessage
		if err := rows.Scan(&m.Direction, &m.Kind, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
