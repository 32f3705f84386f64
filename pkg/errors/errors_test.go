package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	assert.True(t, IsAuth(FromStatus(http.StatusUnauthorized, "x")))
	assert.True(t, IsAuth(FromStatus(http.StatusForbidden, "x")))
	assert.True(t, Is(FromStatus(http.StatusNotFound, "x"), CodeNotFound))
	assert.True(t, IsRetryable(FromStatus(http.StatusBadGateway, "x")))
	assert.False(t, IsRetryable(FromStatus(http.StatusUnprocessableEntity, "x")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(fmt.Errorf("dial tcp: connection refused")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", Unavailable("down", nil))))
	assert.False(t, IsRetryable(Unauthorized("nope", nil)))
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Internal("failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTERNAL_ERROR")
}
