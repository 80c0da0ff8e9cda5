package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowline.dev/common"
	"flowline.dev/executor"
	"flowline.dev/log"
)

type staticLoader struct{ defs []FlowDefinition }

func (l staticLoader) LoadAll(ctx context.Context) ([]FlowDefinition, error) { return l.defs, nil }

func greetFlow() FlowDefinition {
	return FlowDefinition{
		ID:           "greet_v1",
		Module:       "general",
		Trigger:      "greeting",
		InitialState: "say_hi",
		FinalStates:  []string{"done"},
		Enabled:      true,
		Version:      1,
		States: map[string]StateDefinition{
			"say_hi": {
				Type: StateAction,
				Actions: []executor.ActionSpec{
					{Executor: "response", Config: map[string]interface{}{"text": "hello!"}},
				},
				Transitions: map[string]string{"success": "ask_name"},
			},
			"ask_name": {
				Type: StateInput,
				Actions: []executor.ActionSpec{
					{Executor: "response", Config: map[string]interface{}{"text": "what's your name?"}},
				},
				Transitions:    map[string]string{"user_message": "done"},
				TimeoutSeconds: 30,
			},
			"done": {Type: StateEnd},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *Store) {
	reg := executor.NewRegistry()
	reg.Register(executor.NewResponseExecutor())

	store := NewStore(staticLoader{defs: []FlowDefinition{greetFlow()}})
	require.NoError(t, store.Reload(context.Background()))

	return NewEngine(reg, store, log.New(log.DefaultConfig(), "flow-test")), store
}

func TestEngine_StartSuspendsAtInputState(t *testing.T) {
	engine, _ := newTestEngine(t)
	result, err := engine.Start(context.Background(), "greet_v1", "run1", "r1", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, executor.RunSuspended, result.Context.Status)
	require.Equal(t, "ask_name", result.Context.CurrentState)
	require.Len(t, result.Outbound, 2) // say_hi's response + ask_name's entry prompt
}

func TestEngine_ResumeCompletesRun(t *testing.T) {
	engine, store := newTestEngine(t)
	def, _ := store.Get("greet_v1")

	result, err := engine.Start(context.Background(), "greet_v1", "run2", "r2", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, executor.RunSuspended, result.Context.Status)

	resumed, err := engine.Step(context.Background(), def, result.Context, map[string]interface{}{}, "", &common.InboundMessage{Text: "Asha"})
	require.NoError(t, err)
	require.Equal(t, executor.RunCompleted, resumed.Context.Status)
}

func TestEngine_UnhandledEventFailsRun(t *testing.T) {
	def := FlowDefinition{
		ID: "broken_v1", InitialState: "s1", FinalStates: []string{"end"}, Enabled: true, Version: 1,
		States: map[string]StateDefinition{
			"s1":  {Type: StateAction, Actions: []executor.ActionSpec{{Executor: "response", Config: map[string]interface{}{"text": "hi"}}}, Transitions: map[string]string{}},
			"end": {Type: StateEnd},
		},
	}
	reg := executor.NewRegistry()
	reg.Register(executor.NewResponseExecutor())
	store := NewStore(staticLoader{defs: []FlowDefinition{def}})
	require.NoError(t, store.Reload(context.Background()))
	engine := NewEngine(reg, store, log.New(log.DefaultConfig(), "flow-test"))

	result, err := engine.Start(context.Background(), "broken_v1", "run3", "r3", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, executor.RunFailed, result.Context.Status)
	require.Equal(t, common.ErrUnhandledEvent, result.Context.LastError.Kind)
}

func TestEngine_CancelStopsDrive(t *testing.T) {
	engine, store := newTestEngine(t)
	def, _ := store.Get("greet_v1")

	result, err := engine.Start(context.Background(), "greet_v1", "run4", "r4", map[string]interface{}{})
	require.NoError(t, err)

	engine.Cancel(result.Context)
	resumed, err := engine.Step(context.Background(), def, result.Context, map[string]interface{}{}, "", &common.InboundMessage{Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, executor.RunCancelled, resumed.Context.Status)
}
