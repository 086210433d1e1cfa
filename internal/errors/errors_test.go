package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorFormatting(t *testing.T) {
	err := New(TypeConnection, "share unreachable", "Check the host and firewall settings.")

	assert.Equal(t, "share unreachable", err.Error())
	assert.Equal(t, TypeConnection, err.Type)
	assert.Equal(t, "share unreachable", err.Message)
	assert.Equal(t, "Check the host and firewall settings.", err.Hint)
}

func TestAppError_Unwrap(t *testing.T) {
	baseErr := errors.New("underlying socket error")
	appErr := Wrap(baseErr, TypeConnection, "share unreachable", "Check the host and firewall settings.")

	assert.Equal(t, "share unreachable: underlying socket error", appErr.Error())

	assert.True(t, errors.Is(appErr, baseErr))

	unwrapped := errors.Unwrap(appErr)
	assert.Equal(t, baseErr, unwrapped)
}

func TestAppError_IsType(t *testing.T) {
	err := New(TypeNotFound, "no such backup", "Run 'appvault target ls' to inspect the repository.")
	assert.True(t, IsType(err, TypeNotFound))
	assert.False(t, IsType(err, TypeConnection))

	stdErr := errors.New("standard error")
	assert.False(t, IsType(stdErr, TypeNotFound))

	wrapped := fmt.Errorf("wrapped: %w", err)
	assert.True(t, IsType(wrapped, TypeNotFound))

	nested := Wrap(err, TypeTransfer, "download failed", "")
	assert.True(t, IsType(nested, TypeTransfer))
	assert.True(t, IsType(nested, TypeNotFound))
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Connection", New(TypeConnection, "dial failed", ""), true},
		{"Transfer", New(TypeTransfer, "short write", ""), true},
		{"NotConnected", New(TypeNotConnected, "no session", ""), false},
		{"NotFound", New(TypeNotFound, "gone", ""), false},
		{"Persistence", New(TypePersistence, "db locked", ""), false},
		{"Plain", errors.New("plain"), false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.err))
		})
	}
}
