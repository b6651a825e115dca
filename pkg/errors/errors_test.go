package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToServerError(t *testing.T) {
	e := New("boom", "exploded")
	assert.Equal(t, http.StatusInternalServerError, e.HTTPCode)
	assert.Equal(t, "boom: exploded", e.Error())
}

func TestWithMessageDoesNotMutateShared(t *testing.T) {
	e := ErrValidation.WithMessage("stream is required")
	assert.Equal(t, "stream is required", e.Message)
	assert.Equal(t, "invalid frame", ErrValidation.Message)
	assert.True(t, Is(e, ErrValidation))
}

func TestWithErrorUnwraps(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	e := ErrServiceUnavailable.WithError(cause)
	assert.ErrorIs(t, e, cause)
	assert.Nil(t, ErrServiceUnavailable.Err)
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("route: %w", ErrRateLimited)
	assert.Equal(t, CodeRateLimited, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(fmt.Errorf("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestJSONShape(t *testing.T) {
	data, err := json.Marshal(ErrForbidden)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error_code":"forbidden","error_message":"permission denied"}`, string(data))
}
