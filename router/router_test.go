package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowline.dev/executor"
	"flowline.dev/flow"
	"flowline.dev/nlu"
	"flowline.dev/session"
)

type stubClassifier struct{ result nlu.ClassifyResult }

func (s stubClassifier) Classify(ctx context.Context, req nlu.ClassifyRequest) (nlu.ClassifyResult, error) {
	return s.result, nil
}

type staticLoader struct{ defs []flow.FlowDefinition }

func (l staticLoader) LoadAll(ctx context.Context) ([]flow.FlowDefinition, error) { return l.defs, nil }

func minimalFlow(id, trigger string) flow.FlowDefinition {
	return flow.FlowDefinition{
		ID: id, Module: "orders", Trigger: trigger, InitialState: "s",
		FinalStates: []string{"e"}, Enabled: true, Version: 1,
		States: map[string]flow.StateDefinition{
			"s": {Type: flow.StateAction, Transitions: map[string]string{"success": "e"}},
			"e": {Type: flow.StateEnd},
		},
	}
}

func newStore(t *testing.T, defs ...flow.FlowDefinition) *flow.Store {
	store := flow.NewStore(staticLoader{defs: defs})
	require.NoError(t, store.Reload(context.Background()))
	return store
}

func TestRouter_ResumesInFlightRun(t *testing.T) {
	store := newStore(t)
	r := NewRouter(stubClassifier{}, store, 0.80, nil, "", "")
	sess := &session.Session{RecipientID: "r1"}
	active := &executor.FlowContext{RunID: "run1", Status: executor.RunSuspended}

	decision, err := r.Route(context.Background(), "42", sess, active)
	require.NoError(t, err)
	require.Equal(t, DecisionResumeFlow, decision.Kind)
	require.Equal(t, "run1", decision.RunID)
}

func TestRouter_EscapeWordCancelsAndReRoutes(t *testing.T) {
	store := newStore(t, minimalFlow("track_order_v1", "track_order"))
	r := NewRouter(stubClassifier{result: nlu.ClassifyResult{Intent: "track_order", Confidence: 0.9}}, store, 0.80, nil, "", "")
	sess := &session.Session{RecipientID: "r1"}
	active := &executor.FlowContext{RunID: "run1", Status: executor.RunSuspended}

	decision, err := r.Route(context.Background(), "cancel", sess, active)
	require.NoError(t, err)
	require.Equal(t, DecisionStartFlow, decision.Kind)
	require.Equal(t, "track_order_v1", decision.FlowID)
}

func TestRouter_HighConfidenceStartsFlow(t *testing.T) {
	store := newStore(t, minimalFlow("track_order_v1", "track_order"))
	r := NewRouter(stubClassifier{result: nlu.ClassifyResult{Intent: "track_order", Confidence: 0.95}}, store, 0.80, nil, "", "")
	sess := &session.Session{RecipientID: "r1"}

	decision, err := r.Route(context.Background(), "where is my order", sess, nil)
	require.NoError(t, err)
	require.Equal(t, DecisionStartFlow, decision.Kind)
	require.Equal(t, "track_order_v1", decision.FlowID)
}

func TestRouter_AuthRequiredDetours(t *testing.T) {
	store := newStore(t, minimalFlow("place_order_v1", "place_order"), minimalFlow("auth_v1", "__auth__"))
	authRequired := AuthRequiredIntents{"place_order": true}
	r := NewRouter(stubClassifier{result: nlu.ClassifyResult{Intent: "place_order", Confidence: 0.95}}, store, 0.80, authRequired, "auth_v1", "")
	sess := &session.Session{RecipientID: "r1", Authenticated: false}

	decision, err := r.Route(context.Background(), "order 2 samosas", sess, nil)
	require.NoError(t, err)
	require.Equal(t, DecisionStartFlow, decision.Kind)
	require.Equal(t, "auth_v1", decision.FlowID)
}

func TestRouter_LowConfidenceAsksClarification(t *testing.T) {
	store := newStore(t)
	r := NewRouter(stubClassifier{result: nlu.ClassifyResult{Intent: "unknown", Confidence: 0.21}}, store, 0.80, nil, "", "")
	sess := &session.Session{RecipientID: "r1"}

	decision, err := r.Route(context.Background(), "blah blah", sess, nil)
	require.NoError(t, err)
	require.Equal(t, DecisionAskClarification, decision.Kind)
}
