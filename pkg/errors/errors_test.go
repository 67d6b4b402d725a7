package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsCode(t *testing.T) {
	err := Clone(ErrNotFound, "order not found")

	assert.Equal(t, "order not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("dial tcp: refused"))

	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Nil(t, FromError(nil))
}

func TestHasCodeSeesThroughWrapping(t *testing.T) {
	inner := Validation("bad input", FieldError{Field: "score", Message: "score must be within 0..maxScore"})
	wrapped := fmt.Errorf("grade: %w", inner)

	assert.True(t, HasCode(wrapped, ErrValidation.Code))
	assert.False(t, HasCode(wrapped, ErrConflict.Code))
	assert.Len(t, FromError(wrapped).Details, 1)
}
