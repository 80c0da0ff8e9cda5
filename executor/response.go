package executor

import (
	"context"

	"flowline.dev/common"
)

// ResponseExecutor sends a canned message, optionally with buttons or a
// list (spec §4.4 canonical executor "response").
type ResponseExecutor struct{}

func NewResponseExecutor() *ResponseExecutor { return &ResponseExecutor{} }

func (e *ResponseExecutor) Name() string { return "response" }

func (e *ResponseExecutor) Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error) {
	view := map[string]interface{}{"variables": fctx.Variables, "collected_data": fctx.CollectedData}
	cfg := InterpolateConfig(action.Config, view)

	text, _ := cfg["text"].(string)
	out := common.OutboundMessage{RecipientID: fctx.SessionID, Text: text}

	if rawButtons, ok := cfg["buttons"].([]interface{}); ok && len(rawButtons) > 0 {
		out.Kind = common.OutboundButtons
		for _, rb := range rawButtons {
			if m, ok := rb.(map[string]interface{}); ok {
				id, _ := m["id"].(string)
				label, _ := m["label"].(string)
				out.Buttons = append(out.Buttons, common.Button{ID: id, Label: label})
			}
		}
	} else if rawList, ok := cfg["list"].([]interface{}); ok && len(rawList) > 0 {
		out.Kind = common.OutboundList
		for _, rl := range rawList {
			if m, ok := rl.(map[string]interface{}); ok {
				id, _ := m["id"].(string)
				label, _ := m["label"].(string)
				desc, _ := m["description"].(string)
				out.Items = append(out.Items, common.ListItem{ID: id, Label: label, Description: desc})
			}
		}
	} else {
		out.Kind = common.OutboundText
	}

	return ExecutionResult{Success: true, Event: "success", Outbound: []common.OutboundMessage{out}}, nil
}
