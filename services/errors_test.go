package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "provider not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "provider not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeInternal,
				Message: "database error",
				Err:     errors.New("connection refused"),
			},
			wantMsg: "internal: database error (connection refused)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeValidation, "missing field", nil),
			target: &DomainError{Type: ErrorTypeValidation},
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeConflict, "duplicate", nil),
			target: &DomainError{Type: ErrorTypeValidation},
			want:   false,
		},
		{
			name:   "wrapped domain error",
			err:    fmt.Errorf("save credential: %w", NewDomainError(ErrorTypeInternal, "db", nil)),
			target: &DomainError{Type: ErrorTypeInternal},
			want:   true,
		},
		{
			name:   "plain error",
			err:    errors.New("boom"),
			target: &DomainError{Type: ErrorTypeInternal},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := (&DomainError{Type: ErrorTypeNotFound, Message: "x"}).WithDetail("provider", "baidu")

	require.NotNil(t, err.Details)
	assert.Equal(t, "baidu", err.Details["provider"])
}

func TestErrorTypeCheckers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"not found", NewDomainError(ErrorTypeNotFound, "x", nil), IsNotFoundError, true},
		{"not found mismatch", NewValidationError("x"), IsNotFoundError, false},
		{"validation", NewValidationError("x"), IsValidationError, true},
		{"validation wrapped", fmt.Errorf("ctx: %w", NewValidationError("x")), IsValidationError, true},
		{"unauthorized", NewDomainError(ErrorTypeUnauthorized, "x", nil), IsUnauthorizedError, true},
		{"conflict", NewDomainError(ErrorTypeConflict, "x", nil), IsConflictError, true},
		{"internal", WrapInternal("x", errors.New("y")), IsInternalError, true},
		{"plain error", errors.New("x"), IsInternalError, false},
		{"nil error", nil, IsNotFoundError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeConflict, GetErrorType(NewDomainError(ErrorTypeConflict, "x", nil)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("x")))
}

func TestGetErrorDetails(t *testing.T) {
	err := NewValidationError("bad").WithDetail("field", "apiKey")

	assert.Equal(t, map[string]interface{}{"field": "apiKey"}, GetErrorDetails(err))
	assert.Nil(t, GetErrorDetails(errors.New("x")))
}

func TestWrapInternal(t *testing.T) {
	base := errors.New("disk full")
	err := WrapInternal("write snapshot", base)

	assert.True(t, IsInternalError(err))
	assert.ErrorIs(t, err, base)
}
