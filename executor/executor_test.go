package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowline.dev/common"
)

func TestRegistry_RunDispatchesByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewResponseExecutor())

	fctx := NewFlowContext("run1", "flow1", 1, "r1", "greet")
	result, err := reg.Run(context.Background(), ActionSpec{
		Executor: "response",
		Config:   map[string]interface{}{"text": "hello {{variables.name}}"},
	}, fctx, nil, nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "success", result.Event)
	require.Len(t, result.Outbound, 1)
}

func TestRegistry_UnknownExecutor(t *testing.T) {
	reg := NewRegistry()
	fctx := NewFlowContext("run1", "flow1", 1, "r1", "s")
	_, err := reg.Run(context.Background(), ActionSpec{Executor: "nope"}, fctx, nil, nil)
	require.Error(t, err)
}

func TestSetExecutor_WritesToVariables(t *testing.T) {
	ex := NewSetExecutor()
	fctx := NewFlowContext("run1", "flow1", 1, "r1", "s")
	fctx.Variables["city"] = "Pune"

	result, err := ex.Execute(context.Background(), ActionSpec{
		Config: map[string]interface{}{"path": "variables.greeting", "value": "hi {{variables.city}}"},
	}, fctx, nil)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "hi Pune", fctx.Variables["greeting"])
}

func TestValidationExecutor_NumericRange(t *testing.T) {
	ex := NewValidationExecutor()
	fctx := NewFlowContext("run1", "flow1", 1, "r1", "s")

	result, err := ex.Execute(context.Background(), ActionSpec{
		Config: map[string]interface{}{"type": "numeric", "min": 1.0, "max": 5.0},
	}, fctx, &common.InboundMessage{Text: "3"})
	require.NoError(t, err)
	require.Equal(t, "valid", result.Event)

	result, err = ex.Execute(context.Background(), ActionSpec{
		Config: map[string]interface{}{"type": "numeric", "min": 1.0, "max": 5.0},
	}, fctx, &common.InboundMessage{Text: "9"})
	require.NoError(t, err)
	require.Equal(t, "invalid", result.Event)
}

func TestValidationExecutor_YesNoPatterns(t *testing.T) {
	ex := NewValidationExecutor()
	fctx := NewFlowContext("run1", "flow1", 1, "r1", "s")

	result, _ := ex.Execute(context.Background(), ActionSpec{
		Config: map[string]interface{}{"yes_patterns": []interface{}{"haan", "yes"}},
	}, fctx, &common.InboundMessage{Text: "haan bilkul"})
	require.Equal(t, "yes", result.Event)
}
