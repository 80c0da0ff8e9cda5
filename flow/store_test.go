package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func minimalFlow(id, trigger string, version int) FlowDefinition {
	return FlowDefinition{
		ID: id, Module: "general", Trigger: trigger, InitialState: "s",
		FinalStates: []string{"e"}, Enabled: true, Version: version,
		States: map[string]StateDefinition{
			"s": {Type: StateAction, Transitions: map[string]string{"success": "e"}},
			"e": {Type: StateEnd},
		},
	}
}

func TestStore_ByTrigger_TieBreakHighestVersion(t *testing.T) {
	store := NewStore(staticLoader{defs: []FlowDefinition{
		minimalFlow("order_v1", "place_order", 1),
		minimalFlow("order_v2", "place_order", 2),
	}})
	require.NoError(t, store.Reload(context.Background()))

	winner, ok := store.ByTrigger("place_order")
	require.True(t, ok)
	require.Equal(t, "order_v2", winner.ID)
}

func TestStore_ByTrigger_TieBreakLexicographicID(t *testing.T) {
	store := NewStore(staticLoader{defs: []FlowDefinition{
		minimalFlow("order_b", "place_order", 1),
		minimalFlow("order_a", "place_order", 1),
	}})
	require.NoError(t, store.Reload(context.Background()))

	winner, ok := store.ByTrigger("place_order")
	require.True(t, ok)
	require.Equal(t, "order_b", winner.ID)
}

func TestStore_ByTrigger_IgnoresDisabled(t *testing.T) {
	disabled := minimalFlow("order_v3", "place_order", 3)
	disabled.Enabled = false
	store := NewStore(staticLoader{defs: []FlowDefinition{
		minimalFlow("order_v1", "place_order", 1),
		disabled,
	}})
	require.NoError(t, store.Reload(context.Background()))

	winner, ok := store.ByTrigger("place_order")
	require.True(t, ok)
	require.Equal(t, "order_v1", winner.ID)
}

func TestStore_Validate_RejectsUndefinedInitialState(t *testing.T) {
	bad := minimalFlow("bad_v1", "x", 1)
	bad.InitialState = "missing"
	store := NewStore(staticLoader{defs: []FlowDefinition{bad}})
	require.Error(t, store.Reload(context.Background()))
}
