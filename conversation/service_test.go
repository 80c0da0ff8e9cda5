package conversation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"flowline.dev/channel"
	"flowline.dev/common"
	"flowline.dev/executor"
	"flowline.dev/flow"
	"flowline.dev/llm"
	"flowline.dev/log"
	"flowline.dev/nlu"
	"flowline.dev/persistence"
	"flowline.dev/preference"
	"flowline.dev/router"
	"flowline.dev/session"
)

type stubClassifier struct{ result nlu.ClassifyResult }

func (s stubClassifier) Classify(ctx context.Context, req nlu.ClassifyRequest) (nlu.ClassifyResult, error) {
	return s.result, nil
}

// intentClassifier classifies by literal text match, for tests that need
// the router to reach different decisions across turns.
type intentClassifier struct{ byText map[string]nlu.ClassifyResult }

func (c intentClassifier) Classify(ctx context.Context, req nlu.ClassifyRequest) (nlu.ClassifyResult, error) {
	if r, ok := c.byText[req.Text]; ok {
		return r, nil
	}
	return nlu.ClassifyResult{Intent: "unknown", Confidence: 0}, nil
}

type staticLoader struct{ defs []flow.FlowDefinition }

func (l staticLoader) LoadAll(ctx context.Context) ([]flow.FlowDefinition, error) { return l.defs, nil }

func greetFlow() flow.FlowDefinition {
	return flow.FlowDefinition{
		ID: "greet_v1", Module: "general", Trigger: "greeting", InitialState: "say_hi",
		FinalStates: []string{"done"}, Enabled: true, Version: 1,
		States: map[string]flow.StateDefinition{
			"say_hi": {
				Type:        flow.StateAction,
				Actions:     []executor.ActionSpec{{Executor: "response", Config: map[string]interface{}{"text": "hello!"}}},
				Transitions: map[string]string{"success": "done"},
			},
			"done": {Type: flow.StateEnd},
		},
	}
}

func newTestService(t *testing.T) (*Service, *channel.WebSender) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	logger := log.New(log.DefaultConfig(), "conversation-test")

	sessions, err := session.NewRedisStore("redis://"+mr.Addr(), 0, logger)
	require.NoError(t, err)

	sender := channel.NewWebSender()
	registry := channel.NewRegistry(logger)
	registry.RegisterNormalizer(channel.WebNormalizer{})
	registry.RegisterSender(sender)
	dispatcher := channel.NewDispatcher(registry, logger)

	reg := executor.NewRegistry()
	reg.Register(executor.NewResponseExecutor())
	store := flow.NewStore(staticLoader{defs: []flow.FlowDefinition{greetFlow()}})
	require.NoError(t, store.Reload(context.Background()))
	engine := flow.NewEngine(reg, store, logger)

	rtr := router.NewRouter(stubClassifier{result: nlu.ClassifyResult{Intent: "greeting", Confidence: 0.95}}, store, 0.80, nil, "", "")

	svc := NewService(sessions, dispatcher, rtr, engine, store, NewActiveRunTracker(0), nil, nil, nil, nil, "", logger)
	return svc, sender
}

func TestService_HandleInbound_StartsFlowAndSendsReply(t *testing.T) {
	svc, sender := newTestService(t)

	err := svc.HandleInbound(context.Background(), common.InboundMessage{
		RecipientID: "web-1", Platform: common.PlatformWeb, Text: "hi there",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	require.Equal(t, "hello!", sender.Sent[0].Text)
}

// authFlow asks for an OTP, then on any reply marks the session
// authenticated (via a "set" action on variables.user_id, which
// HandleInbound copies onto the session once the run completes) and
// finishes.
func authFlow() flow.FlowDefinition {
	return flow.FlowDefinition{
		ID: "auth_v1", Module: "auth", Trigger: "auth.login", InitialState: "ask_otp",
		FinalStates: []string{"done"}, Enabled: true, Version: 1,
		States: map[string]flow.StateDefinition{
			"ask_otp": {
				Type:        flow.StateInput,
				Actions:     []executor.ActionSpec{{Executor: "response", Config: map[string]interface{}{"text": "enter OTP"}}},
				Transitions: map[string]string{"user_message": "verify"},
			},
			"verify": {
				Type: flow.StateAction,
				Actions: []executor.ActionSpec{
					{Executor: "set", Config: map[string]interface{}{"path": "variables.user_id", "value": "user-42"}},
					{Executor: "response", Config: map[string]interface{}{"text": "✅ Verified"}},
				},
				Transitions: map[string]string{"success": "done"},
			},
			"done": {Type: flow.StateEnd},
		},
	}
}

func foodOrderFlow() flow.FlowDefinition {
	return flow.FlowDefinition{
		ID: "food_order_v1", Module: "food", Trigger: "food.order_food", InitialState: "place_order",
		FinalStates: []string{"done"}, Enabled: true, Version: 1,
		States: map[string]flow.StateDefinition{
			"place_order": {
				Type:        flow.StateAction,
				Actions:     []executor.ActionSpec{{Executor: "response", Config: map[string]interface{}{"text": "\U0001F355 order placed"}}},
				Transitions: map[string]string{"success": "done"},
			},
			"done": {Type: flow.StateEnd},
		},
	}
}

// TestService_HandleInbound_ResumesPendingIntentAfterAuth exercises the
// mandatory Scenario B turn sequence (spec.md §8): an unauthenticated
// recipient's order request detours to the auth flow, and once that flow
// reaches its success terminal, the stashed "order pizza" intent is
// replayed and food_order_v1 actually starts.
func TestService_HandleInbound_ResumesPendingIntentAfterAuth(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	logger := log.New(log.DefaultConfig(), "conversation-test")

	sessions, err := session.NewRedisStore("redis://"+mr.Addr(), 0, logger)
	require.NoError(t, err)

	sender := channel.NewWebSender()
	registry := channel.NewRegistry(logger)
	registry.RegisterNormalizer(channel.WebNormalizer{})
	registry.RegisterSender(sender)
	dispatcher := channel.NewDispatcher(registry, logger)

	reg := executor.NewRegistry()
	reg.Register(executor.NewResponseExecutor())
	reg.Register(executor.NewSetExecutor())
	store := flow.NewStore(staticLoader{defs: []flow.FlowDefinition{authFlow(), foodOrderFlow()}})
	require.NoError(t, store.Reload(context.Background()))
	engine := flow.NewEngine(reg, store, logger)

	classifier := intentClassifier{byText: map[string]nlu.ClassifyResult{
		"order pizza": {Intent: "food.order_food", Confidence: 0.95},
	}}
	authRequired := router.AuthRequiredIntents{"food.order_food": true}
	rtr := router.NewRouter(classifier, store, 0.80, authRequired, "auth_v1", "")

	svc := NewService(sessions, dispatcher, rtr, engine, store, NewActiveRunTracker(0), nil, nil, nil, nil, "auth_v1", logger)

	err = svc.HandleInbound(context.Background(), common.InboundMessage{
		RecipientID: "wa-1", Platform: common.PlatformWeb, Text: "order pizza",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	require.Equal(t, "enter OTP", sender.Sent[0].Text)

	err = svc.HandleInbound(context.Background(), common.InboundMessage{
		RecipientID: "wa-1", Platform: common.PlatformWeb, Text: "1234",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 3)
	require.Equal(t, "✅ Verified", sender.Sent[1].Text)
	require.Equal(t, "\U0001F355 order placed", sender.Sent[2].Text)

	sess, found, err := sessions.Get(context.Background(), "wa-1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, sess.Authenticated)
	require.Nil(t, sess.PendingIntent)
}

// fakeProfileStore is an in-memory preference.ProfileStore for wiring an
// Enricher into a Service test without a real Postgres pool.
type fakeProfileStore struct {
	byUser map[string]persistence.UserProfile
}

func (f *fakeProfileStore) Get(ctx context.Context, userID string) (persistence.UserProfile, error) {
	if p, ok := f.byUser[userID]; ok {
		return p, nil
	}
	return persistence.UserProfile{UserID: userID, Attributes: map[string]interface{}{}, Pending: map[string]persistence.PendingAttribute{}}, nil
}

func (f *fakeProfileStore) Save(ctx context.Context, profile persistence.UserProfile) error {
	f.byUser[profile.UserID] = profile
	return nil
}

type nopLLMProvider struct{}

func (nopLLMProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{}, nil
}

// TestService_HandleInbound_ConfirmationReplyPromotesPendingAttribute
// exercises the mandatory Scenario F turn: after a "haan" reply to a
// pending confirmation question, the pending attribute is promoted into
// the profile's confirmed attributes (confidence 1.0, i.e. no longer
// gated behind Pending) instead of being routed as an ordinary message.
func TestService_HandleInbound_ConfirmationReplyPromotesPendingAttribute(t *testing.T) {
	svc, sender := newTestService(t)

	profiles := &fakeProfileStore{byUser: map[string]persistence.UserProfile{
		"user-1": {
			UserID:     "user-1",
			Attributes: map[string]interface{}{},
			Pending: map[string]persistence.PendingAttribute{
				"dietary.spice_level": {Value: "mild", Confidence: 0.75, AskedAt: "2026-07-30T00:00:00Z"},
			},
		},
	}}
	svc.enricher = preference.NewEnricher(nopLLMProvider{}, "test-model", profiles, nil, svc.logger)

	ctx := context.Background()
	require.NoError(t, svc.sessions.SetData(ctx, "wa-1", "user_id", "user-1"))
	require.NoError(t, svc.sessions.SetData(ctx, "wa-1", "pending_confirmation", &session.PendingConfirmation{
		Key: "dietary.spice_level", Value: "mild",
	}))

	err := svc.HandleInbound(ctx, common.InboundMessage{
		RecipientID: "wa-1", Platform: common.PlatformWeb, Text: "haan",
	})
	require.NoError(t, err)
	require.Len(t, sender.Sent, 1)
	require.Contains(t, sender.Sent[0].Text, "confirming")

	sess, found, err := svc.sessions.Get(ctx, "wa-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, sess.PendingConfirmation)

	profile, err := profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "mild", profile.Attributes["dietary.spice_level"])
	require.NotContains(t, profile.Pending, "dietary.spice_level")
}
