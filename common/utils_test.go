package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		want   string
	}{
		{"empty", "", "<not set>"},
		{"short", "abc", "***"},
		{"long", "myverylongsecretkey123", "myve...y123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MaskSecret(tc.secret))
		})
	}
}

func TestMust(t *testing.T) {
	assert.Equal(t, 42, Must(42, nil))
	assert.Panics(t, func() { Must(0, errors.New("boom")) })
}

func TestPtrRoundTrip(t *testing.T) {
	p := Ptr(7)
	require.NotNil(t, p)
	assert.Equal(t, 7, PtrValue(p))
	assert.Equal(t, 0, PtrValue[int](nil))
}

func TestOrchErrorUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := NewError(ErrTransientUpstream, "nlu call failed", cause).WithState("classify")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "classify", err.State)
	assert.Contains(t, err.Error(), "TransientUpstream")
}
