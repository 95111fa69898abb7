package generators

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError_AccessDenied(t *testing.T) {
	for _, msg := range []string{
		"Error 403, Message: Permission denied, Status: PERMISSION_DENIED",
		"API_KEY_INVALID: API key not valid",
	} {
		cause := errors.New(msg)
		err := ClassifyError(cause)

		require.Error(t, err, msg)
		assert.Equal(t, accessDeniedMessage, err.Error())
		assert.ErrorIs(t, err, ErrAccessDenied)
		assert.ErrorIs(t, err, cause)
	}
}

func TestClassifyError_KeepsMessage(t *testing.T) {
	err := ClassifyError(errors.New("model overloaded"))
	assert.EqualError(t, err, "model overloaded")
	assert.False(t, errors.Is(err, ErrAccessDenied))
}

func TestClassifyError_EmptyMessage(t *testing.T) {
	err := ClassifyError(errors.New(""))
	assert.EqualError(t, err, genericFailedMessage)
}

func TestClassifyError_PassesRenderErrorThrough(t *testing.T) {
	noImage := &RenderError{Kind: ErrNoImage, Message: noImageMessage}
	err := ClassifyError(noImage)

	assert.Same(t, noImage, err)
	assert.ErrorIs(t, err, ErrNoImage)
	assert.Nil(t, ClassifyError(nil))
}

func TestIsCredentialError(t *testing.T) {
	assert.True(t, IsCredentialError("Requested entity was Not Found."))
	assert.True(t, IsCredentialError("Error 403"))
	assert.True(t, IsCredentialError("entity missing"))
	assert.False(t, IsCredentialError("deadline exceeded"))
}
