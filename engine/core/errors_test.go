package core

import (
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrDeviceLost))
	assert.True(t, IsFatal(errors.Wrap(ErrFenceTimeout, "slot 1")))
	assert.True(t, IsFatal(WithStatus(errors.New("vkDestroyImage"), ErrReleaseFailed)))

	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(ErrDoubleFree))
	assert.False(t, IsFatal(errors.Wrap(ErrCommandListsExhausted, "frame 3")))
}

func TestWithStatus(t *testing.T) {
	cause := errors.Wrap(ErrFenceTimeout, "slot 0")
	err := WithStatus(cause, ErrDeviceLost)

	// Both the status and the original cause stay visible to the standard
	// library as well as to cockroachdb/errors.
	assert.ErrorIs(t, err, ErrDeviceLost)
	assert.ErrorIs(t, err, ErrFenceTimeout)
	assert.True(t, stderrors.Is(err, ErrDeviceLost))
	assert.True(t, errors.Is(err, ErrFenceTimeout))
	assert.Equal(t, "device lost: slot 0: fence wait timed out", err.Error())

	assert.Same(t, err, WithStatus(err, ErrDeviceLost))
	assert.NoError(t, WithStatus(nil, ErrDeviceLost))
}
