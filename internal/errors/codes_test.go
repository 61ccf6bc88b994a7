package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAIError(t *testing.T) {
	cause := errors.New("connection reset")

	t.Run("message includes code and cause", func(t *testing.T) {
		err := ArchiveFailed("archive batch failed", cause)
		assert.Equal(t, "[ARCHIVE_FAILED] archive batch failed: connection reset", err.Error())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("message without cause", func(t *testing.T) {
		err := InvalidArgument("group id is required")
		assert.Equal(t, "[INVALID_ARGUMENT] group id is required", err.Error())
	})

	t.Run("code lookup through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("sweep: %w", StoreFailed("list checkpoints", cause))
		assert.True(t, IsCode(wrapped, ErrCodeStoreFailed))
		assert.False(t, IsCode(wrapped, ErrCodeArchiveFailed))
		assert.Equal(t, ErrCodeStoreFailed, GetCodeFromError(wrapped, ErrCodeLLMFailed))
		assert.Equal(t, ErrCodeLLMFailed, GetCodeFromError(cause, ErrCodeLLMFailed))
	})

	t.Run("context values", func(t *testing.T) {
		err := Wrap(cause, ErrCodeEmbeddingFailed, "embed").WithContext("model", "bge-m3")
		assert.Equal(t, "bge-m3", err.Context["model"])
	})
}
