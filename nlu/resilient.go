package nlu

import (
	"context"
	"errors"

	"flowline.dev/common"
)

// ResilientClassifier wraps a Classifier with the keyword-heuristic
// fallback of spec §6.3: any TransientUpstream failure degrades to a
// low-confidence guess instead of propagating, since the Intent Router
// must always produce a routing decision.
type ResilientClassifier struct {
	inner Classifier
}

func NewResilientClassifier(inner Classifier) *ResilientClassifier {
	return &ResilientClassifier{inner: inner}
}

func (r *ResilientClassifier) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	result, err := r.inner.Classify(ctx, req)
	if err == nil {
		return result, nil
	}

	var orchErr *common.OrchError
	if errors.As(err, &orchErr) && orchErr.Kind == common.ErrTransientUpstream {
		return FallbackClassify(req.Text), nil
	}
	return ClassifyResult{}, err
}
