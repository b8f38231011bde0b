package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf_Wrapped(t *testing.T) {
	base := NewStoreWriteError("issues", stderrors.New("constraint"))
	wrapped := fmt.Errorf("process issue 7: %w", base)

	assert.Equal(t, ErrCodeStoreWriteFailed, CodeOf(wrapped))
	assert.True(t, IsStoreWriteFailed(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, ErrCode(""), CodeOf(stderrors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unknown task type", NewUnknownTaskTypeError("PING"), true},
		{"config", fmt.Errorf("gate: %w", NewConfigError("bad reset header", nil)), true},
		{"resolution", NewResolutionFailedError("alice", nil), false},
		{"store write", NewStoreWriteError("message", nil), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestAppError_Error(t *testing.T) {
	err := NewResolutionFailedError("bob", stderrors.New("404"))
	assert.Equal(t, `RESOLUTION_FAILED: could not resolve contributor "bob" (404)`, err.Error())
	assert.Equal(t, "NOT_FOUND: repository not found", NewNotFoundError("repository").Error())
}
