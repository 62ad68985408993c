package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{InvalidInput, 400},
		{NotFound, 404},
		{StateConflict, 400},
		{GitFailure, 500},
		{IOFailure, 500},
		{Internal, 500},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.kind.HTTPStatus(), "kind %s", tc.kind)
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	sentinel := New(NotFound, "")
	wrapped := Wrap(NotFound, errors.New("boom"), "config not found")

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.False(t, errors.Is(wrapped, New(GitFailure, "")))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain error")))
	assert.Equal(t, NotFound, KindOf(NotFoundf("missing %s", "x")))
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(GitFailure, cause, "git op failed")
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "underlying")
}
