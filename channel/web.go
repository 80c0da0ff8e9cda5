package channel

import (
	"context"
	"encoding/json"
	"time"

	"flowline.dev/common"
)

// webPayload is the wire shape accepted by the WEB platform's webhook —
// the simplest of the normalizers, used as the reference implementation
// and in tests; production deployments add WhatsApp/Telegram/SMS/Voice
// adapters alongside it in the same package.
type webPayload struct {
	RecipientID string             `json:"recipient_id"`
	Text        string             `json:"text,omitempty"`
	ButtonReply *common.ButtonReply `json:"button_reply,omitempty"`
	Location    *common.Location    `json:"location,omitempty"`
}

type WebNormalizer struct{}

func (WebNormalizer) Platform() common.Platform { return common.PlatformWeb }

func (WebNormalizer) Normalize(ctx context.Context, raw []byte) (*common.InboundMessage, error) {
	var p webPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &common.InboundMessage{
		RecipientID:  p.RecipientID,
		Text:         p.Text,
		ButtonsReply: p.ButtonReply,
		Location:     p.Location,
		ReceivedAt:   time.Now(),
	}, nil
}

// WebSender is an in-memory Sender used by tests and local development; it
// records sent messages instead of calling out to a real transport.
type WebSender struct {
	Sent []common.OutboundMessage
}

func NewWebSender() *WebSender { return &WebSender{} }

func (s *WebSender) Platform() common.Platform { return common.PlatformWeb }

func (s *WebSender) Send(ctx context.Context, msg common.OutboundMessage) error {
	switch msg.Kind {
	case common.OutboundText, common.OutboundImage:
		s.Sent = append(s.Sent, msg)
		return nil
	default:
		// WEB channel only renders text/image natively; everything else
		// degrades through the Dispatcher.
		return ErrUnsupportedKind
	}
}
