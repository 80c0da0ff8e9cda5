package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowline.dev/common"
	"flowline.dev/log"
)

func newTestDispatcher() (*Dispatcher, *WebSender) {
	registry := NewRegistry(log.New(log.DefaultConfig(), "channel-test"))
	sender := NewWebSender()
	registry.RegisterSender(sender)
	return NewDispatcher(registry, log.New(log.DefaultConfig(), "channel-test")), sender
}

func TestDispatcher_SendText(t *testing.T) {
	d, sender := newTestDispatcher()
	err := d.Send(context.Background(), common.OutboundMessage{
		Kind:        common.OutboundText,
		RecipientID: "r1",
		Platform:    common.PlatformWeb,
		Text:        "hello",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
}

func TestDispatcher_DegradesButtonsToText(t *testing.T) {
	d, sender := newTestDispatcher()
	err := d.Send(context.Background(), common.OutboundMessage{
		Kind:        common.OutboundButtons,
		RecipientID: "r2",
		Platform:    common.PlatformWeb,
		Text:        "choose one",
		Buttons: []common.Button{
			{ID: "a", Label: "Option A"},
			{ID: "b", Label: "Option B"},
		},
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	require.Equal(t, common.OutboundText, sender.Sent[0].Kind)
	require.Contains(t, sender.Sent[0].Text, "1. Option A")
	require.Contains(t, sender.Sent[0].Text, "2. Option B")
}

func TestDispatcher_UnknownPlatform(t *testing.T) {
	d, _ := newTestDispatcher()
	err := d.Send(context.Background(), common.OutboundMessage{
		Kind:        common.OutboundText,
		RecipientID: "r3",
		Platform:    common.PlatformSMS,
	})
	require.Error(t, err)
}
