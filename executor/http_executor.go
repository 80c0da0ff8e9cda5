package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowline.dev/common"
)

// HTTPExecutor calls an external business collaborator (spec §6.5) —
// catalog search, order placement, wallet, auth/OTP, routing/ETA — each an
// opaque URL configured per deployment. Grounded on the teacher's
// executor/http_executor.go (http.Client-with-timeout, header passthrough)
// but retargeted from *semantic.SemanticScheduledAction onto ActionSpec,
// and from a fixed action-type-to-method table onto an explicit
// config["method"].
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPExecutor{client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExecutor) Name() string { return "http" }

func (e *HTTPExecutor) Execute(ctx context.Context, action ActionSpec, fctx *FlowContext, input *common.InboundMessage) (ExecutionResult, error) {
	view := map[string]interface{}{"variables": fctx.Variables, "collected_data": fctx.CollectedData}
	cfg := InterpolateConfig(action.Config, view)

	method, _ := cfg["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	url, _ := cfg["url"].(string)
	if url == "" {
		return ExecutionResult{}, &ExecutionError{Kind: common.ErrSchemaError, Message: "http executor requires config.url"}
	}

	var body io.Reader
	if rawBody, ok := cfg["body"]; ok {
		b, err := json.Marshal(rawBody)
		if err != nil {
			return ExecutionResult{}, &ExecutionError{Kind: common.ErrSchemaError, Message: "http executor body not serializable"}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return ExecutionResult{}, &ExecutionError{Kind: common.ErrSchemaError, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := cfg["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// Dial/timeout failures never reached the collaborator — this is
		// the transport-level retry case (spec §4.4 "tolerate being
		// retried once on transient HTTP failures").
		return ExecutionResult{}, &ExecutionError{Kind: common.ErrTransientUpstream, Message: err.Error()}
	}
	defer resp.Body.Close()

	var decoded interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode >= 400 {
		return ExecutionResult{Success: true, Event: "error", Output: decoded}, nil
	}

	saveTo, _ := cfg["save_to"].(string)
	output := decoded
	if saveTo != "" {
		output = map[string]interface{}{saveTo: decoded}
	}

	return ExecutionResult{Success: true, Event: "success", Output: output}, nil
}
