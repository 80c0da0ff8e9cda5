package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowline.dev/common"
)

type countingProvider struct {
	calls int
	fail  int
	err   error
}

func (p *countingProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	p.calls++
	if p.calls <= p.fail {
		return ChatResponse{}, p.err
	}
	return ChatResponse{Content: "ok"}, nil
}

func TestRetryingProvider_RetriesOnceOnTransientUpstream(t *testing.T) {
	inner := &countingProvider{fail: 1, err: common.NewError(common.ErrTransientUpstream, "timeout", nil)}
	p := NewRetryingProvider(inner, true)

	resp, err := p.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, 2, inner.calls)
}

func TestRetryingProvider_DoesNotRetryWhenDisabled(t *testing.T) {
	inner := &countingProvider{fail: 1, err: common.NewError(common.ErrTransientUpstream, "timeout", nil)}
	p := NewRetryingProvider(inner, false)

	_, err := p.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	require.Equal(t, 1, inner.calls)
}

func TestRetryingProvider_DoesNotRetryOtherErrorKinds(t *testing.T) {
	inner := &countingProvider{fail: 5, err: common.NewError(common.ErrPermanentUpstream, "bad request", nil)}
	p := NewRetryingProvider(inner, true)

	_, err := p.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	require.Equal(t, 1, inner.calls)
}
