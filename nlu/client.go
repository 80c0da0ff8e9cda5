// Package nlu implements the NLU client of spec §4.6/§6.2: a thin HTTP
// client over POST /classify with a hard 500ms timeout, plus a
// keyword-heuristic fallback used when the upstream NLU service is
// unreachable or times out. Grounded on executor/http_executor.go's
// http.Client-with-timeout idiom and transport/http.go's request-building
// conventions, narrowed to the one fixed endpoint this module calls.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flowline.dev/common"
	"flowline.dev/transport"
)

// ClassifyRequest is the body of POST /classify (spec §6.2).
type ClassifyRequest struct {
	Text                string   `json:"text"`
	RecipientID         string   `json:"recipient_id"`
	ConversationHistory []string `json:"conversation_history,omitempty"`
}

// ClassifyResult is the NLU service's response (spec §6.2).
type ClassifyResult struct {
	Intent     string          `json:"intent"`
	Confidence float64         `json:"confidence"`
	Entities   []common.Entity `json:"entities,omitempty"`
	Language   string          `json:"language,omitempty"`
}

// Classifier is the Intent Router's view of NLU (spec §4.6).
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error)
}

// Client calls the external NLU HTTP service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	pooled, err := transport.NewHTTPTransport(context.Background(), transport.DefaultConfig())
	httpClient := &http.Client{Timeout: timeout}
	if err == nil {
		httpClient.Transport = pooled
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("marshal classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("build classify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ClassifyResult{}, common.NewError(common.ErrTransientUpstream, "nlu classify call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return ClassifyResult{}, common.NewError(common.ErrTransientUpstream, fmt.Sprintf("nlu returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return ClassifyResult{}, common.NewError(common.ErrPermanentUpstream, fmt.Sprintf("nlu returned %d", resp.StatusCode), nil)
	}

	var out ClassifyResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ClassifyResult{}, common.NewError(common.ErrSchemaError, "decode nlu response", err)
	}
	return out, nil
}
