// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrorCodeKinds verifies codes map onto the three-kind taxonomy.
func TestErrorCodeKinds(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorKind
	}{
		{ErrValidation, KindValidation},
		{ErrInFlight, KindValidation},
		{ErrMutationPending, KindValidation},
		{ErrExhausted, KindValidation},
		{ErrItemUnconfirmed, KindValidation},
		{ErrRemote, KindRemote},
		{ErrNotFound, KindRemote},
		{ErrPermission, KindRemote},
		{ErrRateLimited, KindRemote},
		{ErrStale, KindStale},
		{ErrReleased, KindStale},
		{ErrInternal, KindInternal},
		{ErrorCode("SOMETHING_NEW"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.code))
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrRemote, Message: "query page", Err: errors.New("connection reset")},
			want:     "[REMOTE_FAILED] query page: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(ErrDatabase, "insert", base)

	assert.ErrorIs(t, err, base)
	assert.Nil(t, New(ErrInternal, "x").Unwrap())
}

func TestNewf(t *testing.T) {
	err := Newf(ErrItemNotFound, "item %s not found", "abc")
	assert.Equal(t, "item abc not found", err.Message)
	assert.Equal(t, KindValidation, err.Kind())
}

func TestIs_WrappedChain(t *testing.T) {
	inner := New(ErrMutationPending, "already pending")
	wrapped := fmt.Errorf("apply: %w", inner)

	assert.True(t, Is(wrapped, ErrMutationPending))
	assert.False(t, Is(wrapped, ErrRemote))
	assert.False(t, Is(errors.New("plain"), ErrRemote))
	assert.False(t, Is(nil, ErrRemote))
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(New(ErrStale, "old"), KindStale))
	assert.True(t, IsKind(errors.New("plain"), KindInternal))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestRemote_KeepsRemoteCode(t *testing.T) {
	notFound := New(ErrNotFound, "record missing")
	err := Remote("delete record", notFound)
	assert.Equal(t, ErrNotFound, err.Code)

	generic := Remote("delete record", errors.New("network down"))
	assert.Equal(t, ErrRemote, generic.Code)

	// validation-kind codes coming back from a gateway are still remote failures
	odd := Remote("create", New(ErrValidation, "server rejected"))
	assert.Equal(t, ErrRemote, odd.Code)

	appErr, ok := As(odd)
	require.True(t, ok)
	assert.Equal(t, KindRemote, appErr.Kind())
}
