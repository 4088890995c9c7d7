package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsCode(t *testing.T) {
	err := Clone(ErrNotFound, "student not found")
	assert.Equal(t, "student not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.EqualError(t, appErr, "internal server error: boom")
}

func TestHasCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", External(errors.New("down"), "identity provider unavailable"))
	assert.True(t, HasCode(wrapped, ErrExternalService.Code))
	assert.Equal(t, http.StatusBadGateway, FromError(wrapped).Status)
}
