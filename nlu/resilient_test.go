package nlu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowline.dev/common"
)

type stubClassifier struct {
	result ClassifyResult
	err    error
}

func (s stubClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	return s.result, s.err
}

func TestResilientClassifier_PassesThroughSuccess(t *testing.T) {
	r := NewResilientClassifier(stubClassifier{result: ClassifyResult{Intent: "track_order", Confidence: 0.9}})
	res, err := r.Classify(context.Background(), ClassifyRequest{Text: "where is my order"})
	require.NoError(t, err)
	require.Equal(t, "track_order", res.Intent)
}

func TestResilientClassifier_FallsBackOnTransientUpstream(t *testing.T) {
	r := NewResilientClassifier(stubClassifier{err: common.NewError(common.ErrTransientUpstream, "timeout", nil)})
	res, err := r.Classify(context.Background(), ClassifyRequest{Text: "please cancel my order"})
	require.NoError(t, err)
	require.Equal(t, "cancel_order", res.Intent)
	require.Less(t, res.Confidence, 0.80)
}

func TestResilientClassifier_PropagatesOtherErrors(t *testing.T) {
	r := NewResilientClassifier(stubClassifier{err: common.NewError(common.ErrSchemaError, "bad json", nil)})
	_, err := r.Classify(context.Background(), ClassifyRequest{Text: "hi"})
	require.Error(t, err)
}
