package executor

import (
	"context"

	"flowline.dev/common"
	"flowline.dev/llm"
)

// LLMExecutor builds a prompt, calls the LLM, and stores the reply under
// the action's output key (spec §4.4 canonical executor "llm").
type LLMExecutor struct {
	provider llm.Provider
	model    string
}

func NewLLMExecutor(provider llm.Provider, model string) *LLMExecutor {
	return &LLMExecutor{provider: provider, model: model}
}

func (e *LLMExecutor) Name() string { return "llm" }

func (e *LLMExecutor) Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error) {
	view := map[string]interface{}{"variables": fctx.Variables, "collected_data": fctx.CollectedData}
	cfg := InterpolateConfig(action.Config, view)

	system, _ := cfg["system"].(string)
	prompt, _ := cfg["prompt"].(string)
	temperature, _ := cfg["temperature"].(float64)
	maxTokens, _ := cfg["max_tokens"].(float64)

	var messages []llm.Message
	if system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   int(maxTokens),
	})
	if err != nil {
		// Upstream call failures are a normal, flow-handleable outcome
		// (spec §6.4 "an executor emits event error which flows must
		// handle") — not a Go error crossing the engine boundary (spec
		// §7 "Propagation"). Retry-once-with-jitter, when enabled, has
		// already happened inside the llm.RetryingProvider by this point.
		return ExecutionResult{Success: true, Event: "error"}, nil
	}

	return ExecutionResult{Success: true, Event: "success", Output: resp.Content}, nil
}
