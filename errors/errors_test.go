package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestIs_NilError(t *testing.T) {
	assert.False(t, Is(nil, ErrNotFound))
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsInvalidRequestError(nil))
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("job %s", "abc123")

	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "job abc123")
}

func TestNotFoundError_SurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewNotFoundError("job %s", "abc123"))
	assert.True(t, IsNotFoundError(err))
}

func TestInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("uploaded file %q is empty", "clip.wav")

	assert.True(t, IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), `"clip.wav"`)
}

func TestInvalidTransitionError(t *testing.T) {
	err := NewInvalidTransitionError("completed", "processing")

	assert.True(t, IsInvalidTransitionError(err))
	assert.Contains(t, err.Error(), "completed -> processing")
}

func TestWithDetail(t *testing.T) {
	err := WithDetail(Wrap(ErrConflict, "register job"), "Job ID: abc123")

	assert.True(t, Is(err, ErrConflict))
	assert.Contains(t, GetAllDetails(err), "Job ID: abc123")
}

func TestCombineErrors(t *testing.T) {
	first := New("first")
	second := New("second")

	combined := CombineErrors(first, second)
	assert.True(t, Is(combined, first))
	assert.Nil(t, CombineErrors(nil, nil))
	assert.Equal(t, second, CombineErrors(nil, second))
}
