package executor

import (
	"context"

	"flowline.dev/common"
)

// BranchExecutor is a pure decision point: it has no side effects and no
// config of its own, relying entirely on the owning StateDefinition's
// conditions to pick the next state (spec §4.4 canonical executor
// "branch"). It always succeeds with a default event so a branch state
// with no matching condition still has somewhere to go if the flow author
// wires a transitions["success"] catch-all.
type BranchExecutor struct{}

func NewBranchExecutor() *BranchExecutor { return &BranchExecutor{} }

func (e *BranchExecutor) Name() string { return "branch" }

func (e *BranchExecutor) Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error) {
	return ExecutionResult{Success: true, Event: "success"}, nil
}
