// Package channel implements the Message Normalizer and Outbound Dispatcher
// of spec §4.2/§4.3: converting provider-native webhook payloads into
// common.InboundMessage, and committing common.OutboundMessage back out in
// emission order per recipient, degrading capability when a platform can't
// render the requested kind. Grounded on the channel-manager/registry idiom
// of other_examples' goclaw channels-manager.go (per-recipient serialized
// dispatch, registry-by-name) and picoclaw's pkg/tools/telegram.go (provider
// client shape), adapted onto this module's logrus-based Logger and
// common.* types instead of slog and the bus package.
package channel

import (
	"context"
	"fmt"

	"flowline.dev/common"
	"flowline.dev/log"
)

// Normalizer converts a provider-native payload into the canonical
// common.InboundMessage shape (spec §4.2). Each platform adapter
// implements this once.
type Normalizer interface {
	Platform() common.Platform
	Normalize(ctx context.Context, rawPayload []byte) (*common.InboundMessage, error)
}

// Sender commits a single OutboundMessage to a platform's native API
// (spec §4.3). Implementations report ErrUnsupportedKind when the
// platform cannot express msg.Kind so the Dispatcher can degrade it.
type Sender interface {
	Platform() common.Platform
	Send(ctx context.Context, msg common.OutboundMessage) error
}

// ErrUnsupportedKind signals that a Sender cannot render an
// OutboundMessage's Kind natively; the Dispatcher degrades and retries
// once before giving up.
var ErrUnsupportedKind = fmt.Errorf("channel: outbound kind unsupported on this platform")

// Registry holds one Normalizer and one Sender per supported platform.
type Registry struct {
	normalizers map[common.Platform]Normalizer
	senders     map[common.Platform]Sender
	logger      *log.Logger
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		normalizers: make(map[common.Platform]Normalizer),
		senders:     make(map[common.Platform]Sender),
		logger:      logger,
	}
}

func (r *Registry) RegisterNormalizer(n Normalizer) { r.normalizers[n.Platform()] = n }
func (r *Registry) RegisterSender(s Sender)         { r.senders[s.Platform()] = s }

func (r *Registry) Normalize(ctx context.Context, platform common.Platform, raw []byte) (*common.InboundMessage, error) {
	n, ok := r.normalizers[platform]
	if !ok {
		return nil, common.NewError(common.ErrInvalidInput, fmt.Sprintf("no normalizer registered for platform %s", platform), nil)
	}
	msg, err := n.Normalize(ctx, raw)
	if err != nil {
		return nil, common.NewError(common.ErrInvalidInput, "normalize inbound payload", err)
	}
	msg.Platform = platform
	return msg, nil
}

func (r *Registry) senderFor(platform common.Platform) (Sender, error) {
	s, ok := r.senders[platform]
	if !ok {
		return nil, common.NewError(common.ErrSchemaError, fmt.Sprintf("no sender registered for platform %s", platform), nil)
	}
	return s, nil
}
