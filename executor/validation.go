package executor

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"flowline.dev/common"
)

// ValidationExecutor checks the current input against a regex/pattern or
// numeric range, or against yes/no pattern lists, emitting
// valid/invalid/yes/no (spec §4.4 canonical executor "validation").
type ValidationExecutor struct{}

func NewValidationExecutor() *ValidationExecutor { return &ValidationExecutor{} }

func (e *ValidationExecutor) Name() string { return "validation" }

func (e *ValidationExecutor) Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error) {
	text := ""
	if input != nil {
		text = strings.TrimSpace(input.Text)
	}

	kind, _ := action.Config["type"].(string)

	if yesPatterns, ok := action.Config["yes_patterns"].([]interface{}); ok {
		if matchesAny(text, yesPatterns) {
			return ExecutionResult{Success: true, Event: "yes"}, nil
		}
	}
	if noPatterns, ok := action.Config["no_patterns"].([]interface{}); ok {
		if matchesAny(text, noPatterns) {
			return ExecutionResult{Success: true, Event: "no"}, nil
		}
	}

	switch kind {
	case "numeric":
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return ExecutionResult{Success: true, Event: "invalid"}, nil
		}
		if minV, ok := action.Config["min"].(float64); ok && n < minV {
			return ExecutionResult{Success: true, Event: "invalid"}, nil
		}
		if maxV, ok := action.Config["max"].(float64); ok && n > maxV {
			return ExecutionResult{Success: true, Event: "invalid"}, nil
		}
		return ExecutionResult{Success: true, Event: "valid", Output: n}, nil

	case "regex":
		pattern, _ := action.Config["pattern"].(string)
		re, err := regexp.Compile(pattern)
		if err != nil || !re.MatchString(text) {
			return ExecutionResult{Success: true, Event: "invalid"}, nil
		}
		return ExecutionResult{Success: true, Event: "valid", Output: text}, nil

	default:
		if text == "" {
			return ExecutionResult{Success: true, Event: "invalid"}, nil
		}
		return ExecutionResult{Success: true, Event: "valid", Output: text}, nil
	}
}

func matchesAny(text string, patterns []interface{}) bool {
	lower := strings.ToLower(text)
	for _, p := range patterns {
		s, ok := p.(string)
		if !ok {
			continue
		}
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
