package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"flowline.dev/common"
	"flowline.dev/log"
)

// Dispatcher commits OutboundMessage values in the order executors emitted
// them, serialized per recipient so that two sends to the same recipient
// never race onto the wire out of order (spec §4.3 "Ordering"). Grounded on
// goclaw's channels-manager.go dispatch loop, narrowed from one shared
// dispatch queue to a per-recipient mutex since this module's Conversation
// Service already serializes per-recipient processing upstream (spec §5) —
// the Dispatcher only needs to guard against two independently-scheduled
// sends (e.g. a flow timeout firing concurrently with a live turn).
type Dispatcher struct {
	registry *Registry
	logger   *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDispatcher(registry *Registry, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (d *Dispatcher) lockFor(recipientID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[recipientID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[recipientID] = l
	}
	return l
}

// Send commits msg to the recipient's platform, degrading Kind when the
// platform's Sender reports ErrUnsupportedKind (spec §4.3 "Degradation":
// buttons/list collapse to a numbered text enumeration before giving up).
func (d *Dispatcher) Send(ctx context.Context, msg common.OutboundMessage) error {
	lock := d.lockFor(msg.RecipientID)
	lock.Lock()
	defer lock.Unlock()

	sender, err := d.registry.senderFor(msg.Platform)
	if err != nil {
		return err
	}

	msg = prepareImage(ctx, msg)

	err = sender.Send(ctx, msg)
	if err == nil {
		return nil
	}
	if err != ErrUnsupportedKind {
		return common.NewError(common.ErrTransientUpstream, "send outbound message", err)
	}

	degraded, ok := degrade(msg)
	if !ok {
		return common.NewError(common.ErrPermanentUpstream, "outbound kind unsupported and not degradable", err)
	}

	d.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"recipient_id": msg.RecipientID,
		"original_kind": msg.Kind,
	}).Warn("degrading outbound message to text fallback")

	if err := sender.Send(ctx, degraded); err != nil {
		return common.NewError(common.ErrTransientUpstream, "send degraded outbound message", err)
	}
	return nil
}

// degrade collapses buttons/list into a plain numbered text message and
// location_request into its prompt text (or a default ask for a text
// address), the universal fallback every platform can render (spec §4.3).
func degrade(msg common.OutboundMessage) (common.OutboundMessage, bool) {
	var b strings.Builder
	switch msg.Kind {
	case common.OutboundButtons:
		if msg.Text != "" {
			b.WriteString(msg.Text)
			b.WriteString("\n\n")
		}
		for i, btn := range msg.Buttons {
			fmt.Fprintf(&b, "%d. %s\n", i+1, btn.Label)
		}
	case common.OutboundList:
		if msg.Text != "" {
			b.WriteString(msg.Text)
			b.WriteString("\n\n")
		}
		for i, item := range msg.Items {
			if item.Description != "" {
				fmt.Fprintf(&b, "%d. %s — %s\n", i+1, item.Label, item.Description)
			} else {
				fmt.Fprintf(&b, "%d. %s\n", i+1, item.Label)
			}
		}
	case common.OutboundLocationRequest:
		b.WriteString(msg.Text)
		if b.Len() == 0 {
			b.WriteString("Please share your location as a text address.")
		}
	default:
		return common.OutboundMessage{}, false
	}

	return common.OutboundMessage{
		Kind:        common.OutboundText,
		RecipientID: msg.RecipientID,
		Platform:    msg.Platform,
		Text:        strings.TrimSpace(b.String()),
	}, true
}
