package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrConflict, "already approved")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "already approved", err.Message)
	assert.Equal(t, "conflict", ErrConflict.Message)
}

func TestInvalidTransitionMessage(t *testing.T) {
	err := InvalidTransition("acknowledged_by_staff", "confirm-arrival")
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Contains(t, err.Message, "acknowledged_by_staff")
	assert.Contains(t, err.Message, "confirm-arrival")
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	raw := fmt.Errorf("boom")
	appErr := FromError(raw)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, raw)

	wrapped := fmt.Errorf("outer: %w", ErrForbidden)
	assert.Equal(t, ErrForbidden, FromError(wrapped))
	assert.True(t, IsCode(wrapped, "FORBIDDEN"))
}

func TestDependencyError(t *testing.T) {
	err := Dependency(fmt.Errorf("gateway 503"), "whatsapp send failed")
	assert.Equal(t, http.StatusBadGateway, err.Status)
	assert.Equal(t, "whatsapp send failed: gateway 503", err.Error())
}
