package executor

import (
	"context"
	"strings"

	"flowline.dev/common"
)

// SetExecutor writes an interpolated value to a dotted path in context
// (spec §4.4 canonical executor "set"). Only variables.* and
// collected_data.* paths are writable; anything else is a config error.
type SetExecutor struct{}

func NewSetExecutor() *SetExecutor { return &SetExecutor{} }

func (e *SetExecutor) Name() string { return "set" }

func (e *SetExecutor) Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error) {
	path, _ := action.Config["path"].(string)
	rawValue := action.Config["value"]

	view := map[string]interface{}{"variables": fctx.Variables, "collected_data": fctx.CollectedData}
	value := interpolateValue(rawValue, view)

	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return ExecutionResult{}, &ExecutionError{Kind: common.ErrSchemaError, Message: "set executor requires a root.key path"}
	}

	var root map[string]interface{}
	switch parts[0] {
	case "variables":
		root = fctx.Variables
	case "collected_data":
		root = fctx.CollectedData
	default:
		return ExecutionResult{}, &ExecutionError{Kind: common.ErrSchemaError, Message: "set executor path must start with variables. or collected_data."}
	}
	root[parts[1]] = value

	return ExecutionResult{Success: true, Event: "success"}, nil
}
