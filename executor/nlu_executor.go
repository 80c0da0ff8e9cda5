package executor

import (
	"context"

	"flowline.dev/common"
	"flowline.dev/nlu"
)

// NLUExecutor classifies a text input drawn from source_path (default
// input.text) and emits high_conf/low_conf (spec §4.4 canonical executor
// "nlu"). Used by flows that want a second, state-scoped classification
// pass beyond the top-level Intent Router (e.g. disambiguating within an
// already-started flow).
type NLUExecutor struct {
	classifier     nlu.Classifier
	highConfidence float64
}

func NewNLUExecutor(classifier nlu.Classifier, highConfidence float64) *NLUExecutor {
	if highConfidence <= 0 {
		highConfidence = 0.80
	}
	return &NLUExecutor{classifier: classifier, highConfidence: highConfidence}
}

func (e *NLUExecutor) Name() string { return "nlu" }

func (e *NLUExecutor) Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error) {
	sourcePath, _ := action.Config["source_path"].(string)
	if sourcePath == "" {
		sourcePath = "input.text"
	}

	inboundText := ""
	if input != nil {
		inboundText = input.Text
	}
	view := map[string]interface{}{
		"input":          map[string]interface{}{"text": inboundText},
		"variables":      fctx.Variables,
		"collected_data": fctx.CollectedData,
	}

	text := inboundText
	if v, ok := lookupPath(view, sourcePath); ok {
		if s, ok := v.(string); ok {
			text = s
		}
	}

	result, err := e.classifier.Classify(ctx, nlu.ClassifyRequest{Text: text, RecipientID: fctx.SessionID})
	if err != nil {
		return ExecutionResult{Success: false}, &ExecutionError{Kind: common.ErrTransientUpstream, Message: err.Error()}
	}

	event := "low_conf"
	if result.Confidence >= e.highConfidence {
		event = "high_conf"
	}

	return ExecutionResult{
		Success: true,
		Event:   event,
		Output: map[string]interface{}{
			"intent":     result.Intent,
			"confidence": result.Confidence,
			"entities":   result.Entities,
			"language":   result.Language,
		},
	}, nil
}
