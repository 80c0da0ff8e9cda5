package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"flowline.dev/common"
)

// RetryingProvider retries a TransientUpstream failure exactly once, after
// a small jittered backoff, per the Open Question resolution in spec §9
// ("LLM retry-once-with-jitter for TransientUpstream, with a per-executor
// override to disable it"). Grounded on picoclaw's FallbackProvider retry
// idiom (pkg/providers/fallback_provider.go), narrowed from a
// primary/fallback swap to a same-provider retry since this module has one
// configured LLM endpoint.
type RetryingProvider struct {
	inner   Provider
	enabled bool
	jitter  time.Duration
}

// NewRetryingProvider wraps inner with retry-once behavior. Pass
// enabled=false for executors that opt out (the per-executor override).
func NewRetryingProvider(inner Provider, enabled bool) *RetryingProvider {
	return &RetryingProvider{inner: inner, enabled: enabled, jitter: 200 * time.Millisecond}
}

func (p *RetryingProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	resp, err := p.inner.Chat(ctx, req)
	if err == nil || !p.enabled {
		return resp, err
	}

	var orchErr *common.OrchError
	if !errors.As(err, &orchErr) || orchErr.Kind != common.ErrTransientUpstream {
		return resp, err
	}

	select {
	case <-time.After(time.Duration(rand.Int63n(int64(p.jitter))) + p.jitter/2):
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	}

	return p.inner.Chat(ctx, req)
}
