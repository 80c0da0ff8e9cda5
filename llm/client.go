// Package llm implements the LLM client of spec §6.4: an OpenAI-style
// chat-completions caller with a 10s timeout. Grounded on picoclaw's
// pkg/providers package — the Chat(ctx, messages, model, options) shape of
// claude_provider.go and the retry-on-failure idiom of
// fallback_provider.go — adapted onto this module's common.OrchError
// taxonomy instead of plain wrapped errors, and narrowed to one HTTP
// provider since spec §6.4 names a single configured LLM endpoint rather
// than a primary/fallback pair.
package llm

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

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest mirrors the OpenAI chat-completions body (spec §6.4).
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message Message `json:"message"`
}

type chatResponseBody struct {
	Choices []chatChoice `json:"choices"`
}

// ChatResponse is the caller-facing result of a completion call.
type ChatResponse struct {
	Content string
}

// Provider is the executor-facing contract for calling an LLM.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Client calls the configured LLM HTTP service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
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

func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ChatResponse{}, common.NewError(common.ErrTransientUpstream, "llm chat call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ChatResponse{}, common.NewError(common.ErrRateLimited, "llm rate limited", nil)
	}
	if resp.StatusCode >= 500 {
		return ChatResponse{}, common.NewError(common.ErrTransientUpstream, fmt.Sprintf("llm returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return ChatResponse{}, common.NewError(common.ErrPermanentUpstream, fmt.Sprintf("llm returned %d", resp.StatusCode), nil)
	}

	var parsed chatResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatResponse{}, common.NewError(common.ErrSchemaError, "decode llm response", err)
	}
	if len(parsed.Choices) == 0 {
		return ChatResponse{}, common.NewError(common.ErrSchemaError, "llm returned no choices", nil)
	}
	return ChatResponse{Content: parsed.Choices[0].Message.Content}, nil
}
