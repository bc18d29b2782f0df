package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := NewError(ErrValidation, "recipients must not be empty")
	assert.Equal(t, "[VALIDATION] recipients must not be empty", err.Error())

	cause := errors.New("connection refused")
	err = NewError(ErrPartialDelivery, "delivery failed").WithCause(cause)
	assert.Contains(t, err.Error(), "PARTIAL_DELIVERY")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewError(ErrNotFound, "artifact missing").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(NewError(ErrValidation, "bad")))
	assert.True(t, IsRetryable(NewError(ErrCircuitOpen, "open").WithRetryable(true)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrInvalidTransition, GetErrorCode(NewError(ErrInvalidTransition, "bad move")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}
